package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
)

// OutboxRepoMongoDB guarda la outbox en la misma base que los libros. Un
// InsertOne con un SessionContext entra en la transacción abierta.
type OutboxRepoMongoDB struct {
	outboxColl *mongo.Collection
}

func NewOutboxRepoMongoDB(client *mongo.Client, dbName string) *OutboxRepoMongoDB {
	return &OutboxRepoMongoDB{outboxColl: client.Database(dbName).Collection("outbox")}
}

// mongoOutboxEvent mapea el documento; el id se guarda como string legible.
type mongoOutboxEvent struct {
	ID            string            `bson:"_id"`
	Sequence      int64             `bson:"sequence"`
	AggregateType string            `bson:"aggregateType"`
	AggregateID   string            `bson:"aggregateId"`
	EventType     string            `bson:"eventType"`
	Topic         string            `bson:"topic"`
	Payload       []byte            `bson:"payload"`
	Headers       map[string]string `bson:"headers"`
	CreatedAt     time.Time         `bson:"createdAt"`
	Processed     bool              `bson:"processed"`
}

// EnsureIndexes crea el índice que usa el relayer para leer pendientes en orden.
func (r *OutboxRepoMongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := r.outboxColl.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "processed", Value: 1}, {Key: "sequence", Value: 1}},
	})
	return err
}

func (r *OutboxRepoMongoDB) SaveOutbox(ctx context.Context, evt sharedDomain.OutboxEvent) error {
	doc := mongoOutboxEvent{
		ID:            evt.ID.String(),
		Sequence:      evt.Sequence,
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Topic:         evt.Topic,
		Payload:       evt.Payload,
		Headers:       evt.Headers,
		CreatedAt:     evt.CreatedAt,
		Processed:     false,
	}
	if _, err := r.outboxColl.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (r *OutboxRepoMongoDB) FetchPendingOutbox(ctx context.Context, limit int) ([]sharedDomain.OutboxEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sequence", Value: 1}}).SetLimit(int64(limit))

	cursor, err := r.outboxColl.Find(ctx, bson.M{"processed": false}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var events []sharedDomain.OutboxEvent
	for cursor.Next(ctx) {
		var mo mongoOutboxEvent
		if err := cursor.Decode(&mo); err != nil {
			return nil, err
		}
		evt, err := fromMongoOutboxEvent(&mo)
		if err != nil {
			return nil, err
		}
		events = append(events, evt)
	}
	return events, cursor.Err()
}

func (r *OutboxRepoMongoDB) MarkOutboxProcessed(ctx context.Context, id uuid.UUID) error {
	res, err := r.outboxColl.UpdateOne(ctx,
		bson.M{"_id": id.String()},
		bson.M{"$set": bson.M{"processed": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("outbox event not found: %s", id)
	}
	return nil
}

func fromMongoOutboxEvent(mo *mongoOutboxEvent) (sharedDomain.OutboxEvent, error) {
	id, err := uuid.Parse(mo.ID)
	if err != nil {
		return sharedDomain.OutboxEvent{}, fmt.Errorf("invalid UUID in outbox document: %w", err)
	}
	return sharedDomain.OutboxEvent{
		ID:            id,
		Sequence:      mo.Sequence,
		AggregateType: mo.AggregateType,
		AggregateID:   mo.AggregateID,
		EventType:     mo.EventType,
		Topic:         mo.Topic,
		Payload:       mo.Payload,
		Headers:       mo.Headers,
		CreatedAt:     mo.CreatedAt,
		Processed:     mo.Processed,
	}, nil
}

// Verificación en tiempo de compilación.
var _ sharedDomain.OutboxRepository = (*OutboxRepoMongoDB)(nil)
