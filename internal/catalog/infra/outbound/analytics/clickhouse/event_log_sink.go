package clickhouse

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

const eventLogTable = "catalog_event_log"

// EventLogSink guarda cada mensaje de analítica en ClickHouse. Se usa como
// espejo del topic de analítica, así que sus fallos nunca llegan a la mutación.
type EventLogSink struct {
	db  *sql.DB
	now func() time.Time
}

// NewEventLogSink abre la conexión y comprueba que responde.
func NewEventLogSink(addr, dbName string) (*EventLogSink, error) {
	conn := clickhouse.OpenDB(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: dbName,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
	})

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("could not ping clickhouse: %w", err)
	}
	return NewEventLogSinkWithDB(conn), nil
}

// NewEventLogSinkWithDB reutiliza una conexión ya abierta.
func NewEventLogSinkWithDB(db *sql.DB) *EventLogSink {
	return &EventLogSink{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// EnsureTable crea la tabla del log si no existe.
func (s *EventLogSink) EnsureTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+eventLogTable+` (
			event_id       String,
			topic          LowCardinality(String),
			partition_key  String,
			event_type     LowCardinality(String),
			correlation_id String,
			content_type   LowCardinality(String),
			payload        String,
			logged_at      DateTime64(3, 'UTC')
		) ENGINE = MergeTree
		ORDER BY (topic, logged_at)`)
	return err
}

func (s *EventLogSink) Publish(ctx context.Context, msg sharedBus.Message) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+eventLogTable+" (event_id, topic, partition_key, event_type, correlation_id, content_type, payload, logged_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		msg.Headers[sharedBus.HeaderEventID],
		msg.Topic,
		msg.Key,
		msg.Headers[sharedBus.HeaderEventType],
		msg.Headers[sharedBus.HeaderCorrelationID],
		msg.Headers[sharedBus.HeaderContentType],
		string(msg.Value),
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("log event %s: %w", msg.Headers[sharedBus.HeaderEventID], err)
	}
	return nil
}

// CountByTopic devuelve cuántos eventos hay registrados por topic.
func (s *EventLogSink) CountByTopic(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT topic, count(*) FROM "+eventLogTable+" GROUP BY topic")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int64{}
	for rows.Next() {
		var topic string
		var n int64
		if err := rows.Scan(&topic, &n); err != nil {
			return nil, err
		}
		counts[topic] = n
	}
	return counts, rows.Err()
}

func (s *EventLogSink) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *EventLogSink) Close() error {
	return s.db.Close()
}

var (
	_ sharedBus.Sink   = (*EventLogSink)(nil)
	_ sharedBus.Pinger = (*EventLogSink)(nil)
)
