package application

import (
	"time"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
)

// ServiceInfo identifica al productor en cada envelope.
type ServiceInfo struct {
	Source         string
	ServiceVersion string
	SchemaVersion  string
}

func DefaultServiceInfo() ServiceInfo {
	return ServiceInfo{
		Source:         "book-management-service",
		ServiceVersion: "1.0.0",
		SchemaVersion:  "v1",
	}
}

// EnvelopeBuilder es puro salvo por el eventId y la marca de tiempo.
type EnvelopeBuilder struct {
	info ServiceInfo
	ids  *IdentityGenerator
	now  func() time.Time
}

func NewEnvelopeBuilder(info ServiceInfo, ids *IdentityGenerator) *EnvelopeBuilder {
	if ids == nil {
		ids = NewIdentityGenerator()
	}
	return &EnvelopeBuilder{info: info, ids: ids, now: func() time.Time { return time.Now().UTC() }}
}

func (b *EnvelopeBuilder) Info() ServiceInfo {
	return b.info
}

// Build envuelve un cambio de un libro. entity y previous se copian: el
// envelope no comparte memoria con el libro que sigue vivo en el servicio.
func (b *EnvelopeBuilder) Build(
	entity *domain.Book,
	eventType domain.EventType,
	previous *domain.Book,
	triggeredBy string,
	metadata map[string]any,
	correlationID string,
) (*domain.EventEnvelope, error) {
	switch {
	case !eventType.Valid():
		return nil, &domain.InvalidEventError{Reason: "event type is unset or unknown"}
	case entity == nil:
		return nil, &domain.InvalidEventError{Reason: "entity is required"}
	case entity.ID == "":
		return nil, &domain.InvalidEventError{Reason: "entity id is required"}
	}

	if triggeredBy == "" {
		triggeredBy = entity.UploadedBy
	}

	env := &domain.EventEnvelope{
		EventID:            b.ids.EventID(),
		EventType:          eventType,
		EntityID:           entity.ID,
		EntityData:         entity.Clone(),
		PreviousEntityData: previous.Clone(),
		TriggeredBy:        triggeredBy,
		EventTimestamp:     b.now(),
		Source:             b.info.Source,
		ServiceVersion:     b.info.ServiceVersion,
		SchemaVersion:      b.info.SchemaVersion,
		Metadata:           copyMetadata(metadata),
		CorrelationID:      correlationID,
	}
	return env, nil
}

// BuildSummary construye el resumen de un lote: sin entityData y con el id
// sintético del lote como entityId.
func (b *EnvelopeBuilder) BuildSummary(
	batchID string,
	eventType domain.EventType,
	metadata map[string]any,
	correlationID string,
) (*domain.EventEnvelope, error) {
	switch {
	case !eventType.Valid():
		return nil, &domain.InvalidEventError{Reason: "event type is unset or unknown"}
	case batchID == "":
		return nil, &domain.InvalidEventError{Reason: "batch id is required"}
	}

	return &domain.EventEnvelope{
		EventID:        b.ids.EventID(),
		EventType:      eventType,
		EntityID:       batchID,
		EventTimestamp: b.now(),
		Source:         b.info.Source,
		ServiceVersion: b.info.ServiceVersion,
		SchemaVersion:  b.info.SchemaVersion,
		Metadata:       copyMetadata(metadata),
		CorrelationID:  correlationID,
	}, nil
}

func copyMetadata(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
