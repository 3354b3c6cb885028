package domain

import (
	"time"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

// EventType usa los códigos de un carácter que ya consumen los servicios existentes.
type EventType string

const (
	EventInsert EventType = "I"
	EventUpdate EventType = "U"
	EventDelete EventType = "D"
)

func (t EventType) Valid() bool {
	return t == EventInsert || t == EventUpdate || t == EventDelete
}

func (t EventType) Description() string {
	switch t {
	case EventInsert:
		return "Insert - Book was created"
	case EventUpdate:
		return "Update - Book was modified"
	case EventDelete:
		return "Delete - Book was removed"
	}
	return "unknown"
}

// EventEnvelope es la unidad que viaja al broker: autocontenida, con el
// snapshot completo del libro en el momento del evento.
type EventEnvelope struct {
	EventID            string         `json:"eventId" msgpack:"eventId"`
	EventType          EventType      `json:"eventType" msgpack:"eventType"`
	EntityID           string         `json:"entityId" msgpack:"entityId"`
	EntityData         *Book          `json:"entityData" msgpack:"entityData"`
	PreviousEntityData *Book          `json:"previousEntityData,omitempty" msgpack:"previousEntityData,omitempty"`
	TriggeredBy        string         `json:"triggeredBy,omitempty" msgpack:"triggeredBy,omitempty"`
	EventTimestamp     time.Time      `json:"eventTimestamp" msgpack:"eventTimestamp"`
	Source             string         `json:"source" msgpack:"source"`
	ServiceVersion     string         `json:"serviceVersion" msgpack:"serviceVersion"`
	SchemaVersion      string         `json:"schemaVersion" msgpack:"schemaVersion"`
	Metadata           map[string]any `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
	CorrelationID      string         `json:"correlationId,omitempty" msgpack:"correlationId,omitempty"`
}

// PartitionKey es el id del libro, o el id sintético del lote en los resúmenes.
func (e *EventEnvelope) PartitionKey() string {
	return e.EntityID
}

// IsSummary: sólo los resúmenes de lote viajan sin entityData.
func (e *EventEnvelope) IsSummary() bool {
	return e.EntityData == nil
}

// Validate comprueba las invariantes de identidad del envelope ya construido.
func (e *EventEnvelope) Validate() error {
	switch {
	case e.EventID == "":
		return &InvalidEventError{Reason: "eventId is required"}
	case !e.EventType.Valid():
		return &InvalidEventError{Reason: "eventType must be one of I, U, D"}
	case e.EntityID == "":
		return &InvalidEventError{Reason: "entityId is required"}
	case e.EntityData != nil && e.EntityData.ID != e.EntityID:
		return &InvalidEventError{Reason: "entityId does not match entityData"}
	}
	return nil
}

var _ sharedBus.Keyer = (*EventEnvelope)(nil)
