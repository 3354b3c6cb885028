package bus

import "context"

type Keyer interface {
	PartitionKey() string
}

// Message es lo que recibe un broker: topic, clave de partición, bytes ya
// codificados y cabeceras. El formato del payload lo decide el codec.
type Message struct {
	Topic   string
	Key     string
	Value   []byte
	Headers map[string]string
}

// Sink entrega mensajes a un broker. Publish devuelve cuando el broker confirma
// (o falla); el orden por clave lo garantiza quien llama, no el sink.
type Sink interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Pinger lo implementan los sinks capaces de comprobar su conexión.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SinkFunc adapta una función a Sink (útil en tests y decoradores).
type SinkFunc func(ctx context.Context, msg Message) error

func (f SinkFunc) Publish(ctx context.Context, msg Message) error { return f(ctx, msg) }

func (f SinkFunc) Close() error { return nil }

// Header keys comunes a todos los brokers.
const (
	HeaderEventID       = "event-id"
	HeaderEventType     = "event-type"
	HeaderSchemaVersion = "schema-version"
	HeaderCorrelationID = "correlation-id"
	HeaderContentType   = "content-type"
)

// CloneHeaders copia las cabeceras para que cada sink pueda tocarlas sin carreras.
func CloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}
