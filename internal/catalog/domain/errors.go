package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ---------- Errores de dominio ----------
var (
	ErrBookNotFound      = errors.New("book not found")
	ErrBookAlreadyExists = errors.New("book already exists")
	ErrDuplicateISBN     = errors.New("book with this isbn already exists")
	ErrInvalidBook       = errors.New("invalid book")
	ErrInvalidQuery      = errors.New("invalid query")

	ErrInvalidEvent    = errors.New("invalid event")
	ErrPublish         = errors.New("publish failed")
	ErrBatchValidation = errors.New("invalid batch request")
	ErrBatchAborted    = errors.New("batch aborted")
)

// InvalidEventError: el envelope no se puede construir. Es un error del
// llamador y nunca se reintenta.
type InvalidEventError struct {
	Reason string
}

func (e *InvalidEventError) Error() string {
	return "invalid event: " + e.Reason
}

func (e *InvalidEventError) Unwrap() error { return ErrInvalidEvent }

// PublishError: el broker rechazó el envío o no respondió a tiempo.
type PublishError struct {
	Topic   string
	Key     string
	EventID string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish event %s to %s (key %s): %v", e.EventID, e.Topic, e.Key, e.Err)
}

func (e *PublishError) Unwrap() []error { return []error{ErrPublish, e.Err} }

// BatchValidationError se devuelve antes de cualquier efecto secundario.
type BatchValidationError struct {
	Reason string
}

func (e *BatchValidationError) Error() string {
	return "invalid batch request: " + e.Reason
}

func (e *BatchValidationError) Unwrap() error { return ErrBatchValidation }

// ItemFailure describe un elemento fallido dentro de un lote tolerante.
type ItemFailure struct {
	ID     string `json:"id"`
	Index  int    `json:"index"` // 1-based, en el orden de la petición
	Reason string `json:"reason"`
}

// BatchError aborta un lote con continueOnError=false. PublishedIDs lleva lo
// que ya salió hacia el broker; los consumidores lo deduplican por eventId.
type BatchError struct {
	Index        int
	FailedID     string
	PublishedIDs []string
	Err          error
}

func (e *BatchError) Error() string {
	published := "none"
	if len(e.PublishedIDs) > 0 {
		published = strings.Join(e.PublishedIDs, ",")
	}
	return fmt.Sprintf("batch aborted at item %d (%s), already published: [%s]: %v", e.Index, e.FailedID, published, e.Err)
}

func (e *BatchError) Unwrap() []error { return []error{ErrBatchAborted, e.Err} }
