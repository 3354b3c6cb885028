package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type BatchOperation string

const (
	BatchCreate       BatchOperation = "CREATE"
	BatchUpdate       BatchOperation = "UPDATE"
	BatchDelete       BatchOperation = "DELETE"
	BatchStatusChange BatchOperation = "STATUS_CHANGE"
)

const (
	DefaultMaxBatchSize = 100
	maxRequestIDLength  = 100
	maxReasonLength     = 500
)

func (o BatchOperation) Valid() bool {
	switch o {
	case BatchCreate, BatchUpdate, BatchDelete, BatchStatusChange:
		return true
	}
	return false
}

// EventType: un cambio de estado es una actualización del registro.
func (o BatchOperation) EventType() EventType {
	switch o {
	case BatchCreate:
		return EventInsert
	case BatchDelete:
		return EventDelete
	case BatchUpdate, BatchStatusChange:
		return EventUpdate
	}
	return ""
}

// MetadataName es el valor de "operation" en los metadatos de los eventos.
func (o BatchOperation) MetadataName() string {
	return strings.ToLower(string(o))
}

// BatchPayload es la lista de elementos de un lote. Sólo los tipos de este
// paquete la implementan, así que la operación siempre cuadra con los datos.
type BatchPayload interface {
	Operation() BatchOperation
	Len() int
	ItemID(i int) string
	validateItems() error
}

type BookUpdateItem struct {
	BookID  string    `json:"bookId"`
	Updates BookPatch `json:"updates"`
}

type StatusChangeItem struct {
	BookID    string     `json:"bookId"`
	NewStatus BookStatus `json:"newStatus"`
	Reason    string     `json:"reason,omitempty"`
}

type (
	CreateItems   []BookDraft
	UpdateItems   []BookUpdateItem
	DeleteIDs     []string
	StatusChanges []StatusChangeItem
)

func (CreateItems) Operation() BatchOperation   { return BatchCreate }
func (UpdateItems) Operation() BatchOperation   { return BatchUpdate }
func (DeleteIDs) Operation() BatchOperation     { return BatchDelete }
func (StatusChanges) Operation() BatchOperation { return BatchStatusChange }

func (c CreateItems) Len() int   { return len(c) }
func (u UpdateItems) Len() int   { return len(u) }
func (d DeleteIDs) Len() int     { return len(d) }
func (s StatusChanges) Len() int { return len(s) }

// Los altos todavía no tienen id: se identifican por posición.
func (c CreateItems) ItemID(i int) string   { return fmt.Sprintf("item-%d", i+1) }
func (u UpdateItems) ItemID(i int) string   { return u[i].BookID }
func (d DeleteIDs) ItemID(i int) string     { return d[i] }
func (s StatusChanges) ItemID(i int) string { return s[i].BookID }

func (c CreateItems) validateItems() error { return nil }

func (u UpdateItems) validateItems() error {
	for i, item := range u {
		if strings.TrimSpace(item.BookID) == "" {
			return &BatchValidationError{Reason: fmt.Sprintf("item %d: book id is required", i+1)}
		}
	}
	return nil
}

func (d DeleteIDs) validateItems() error {
	for i, id := range d {
		if strings.TrimSpace(id) == "" {
			return &BatchValidationError{Reason: fmt.Sprintf("item %d: book id is required", i+1)}
		}
	}
	return nil
}

func (s StatusChanges) validateItems() error {
	for i, item := range s {
		switch {
		case strings.TrimSpace(item.BookID) == "":
			return &BatchValidationError{Reason: fmt.Sprintf("item %d: book id is required", i+1)}
		case !item.NewStatus.Valid():
			return &BatchValidationError{Reason: fmt.Sprintf("item %d: unknown status %q", i+1, item.NewStatus)}
		case len(item.Reason) > maxReasonLength:
			return &BatchValidationError{Reason: fmt.Sprintf("item %d: reason must not exceed %d characters", i+1, maxReasonLength)}
		}
	}
	return nil
}

// BatchRequest es una mutación masiva homogénea.
type BatchRequest struct {
	RequestID       string
	UserID          string
	Payload         BatchPayload
	ContinueOnError bool
	MaxBatchSize    int
}

// NewBatchRequest aplica los valores por defecto: tolerante y 100 elementos.
func NewBatchRequest(payload BatchPayload) BatchRequest {
	return BatchRequest{
		Payload:         payload,
		ContinueOnError: true,
		MaxBatchSize:    DefaultMaxBatchSize,
	}
}

func (r BatchRequest) Operation() BatchOperation {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.Operation()
}

func (r BatchRequest) TotalItems() int {
	if r.Payload == nil {
		return 0
	}
	return r.Payload.Len()
}

// Validate se ejecuta antes de cualquier escritura o publicación.
func (r BatchRequest) Validate() error {
	switch {
	case r.Payload == nil:
		return &BatchValidationError{Reason: "batch operation type is required"}
	case r.MaxBatchSize <= 0:
		return &BatchValidationError{Reason: "max batch size must be positive"}
	case r.TotalItems() == 0:
		return &BatchValidationError{Reason: "at least one item must be provided for batch operation"}
	case r.TotalItems() > r.MaxBatchSize:
		return &BatchValidationError{Reason: fmt.Sprintf("batch size %d exceeds maximum allowed: %d", r.TotalItems(), r.MaxBatchSize)}
	case len(r.RequestID) > maxRequestIDLength:
		return &BatchValidationError{Reason: fmt.Sprintf("request id must not exceed %d characters", maxRequestIDLength)}
	}
	return r.Payload.validateItems()
}

// batchRequestWire mantiene el formato JSON existente: discriminador + una lista por operación.
type batchRequestWire struct {
	RequestID       string             `json:"requestId,omitempty"`
	UserID          string             `json:"userId,omitempty"`
	Operation       BatchOperation     `json:"operation"`
	BooksToCreate   []BookDraft        `json:"booksToCreate,omitempty"`
	BooksToUpdate   []BookUpdateItem   `json:"booksToUpdate,omitempty"`
	BookIDsToDelete []string           `json:"bookIdsToDelete,omitempty"`
	StatusChanges   []StatusChangeItem `json:"statusChanges,omitempty"`
	ContinueOnError *bool              `json:"continueOnError,omitempty"`
	MaxBatchSize    *int               `json:"maxBatchSize,omitempty"`
}

func (r *BatchRequest) UnmarshalJSON(data []byte) error {
	var w batchRequestWire
	if err := json.Unmarshal(data, &w); err != nil {
		return &BatchValidationError{Reason: err.Error()}
	}

	populated := map[BatchOperation]bool{
		BatchCreate:       len(w.BooksToCreate) > 0,
		BatchUpdate:       len(w.BooksToUpdate) > 0,
		BatchDelete:       len(w.BookIDsToDelete) > 0,
		BatchStatusChange: len(w.StatusChanges) > 0,
	}
	for op, has := range populated {
		if has && op != w.Operation {
			return &BatchValidationError{Reason: fmt.Sprintf("items for %s provided in a %q batch", op, w.Operation)}
		}
	}

	out := NewBatchRequest(nil)
	out.RequestID = w.RequestID
	out.UserID = w.UserID
	if w.ContinueOnError != nil {
		out.ContinueOnError = *w.ContinueOnError
	}
	if w.MaxBatchSize != nil {
		out.MaxBatchSize = *w.MaxBatchSize
	}

	switch w.Operation {
	case "":
		// sin operación: Validate lo rechaza
	case BatchCreate:
		out.Payload = CreateItems(w.BooksToCreate)
	case BatchUpdate:
		out.Payload = UpdateItems(w.BooksToUpdate)
	case BatchDelete:
		out.Payload = DeleteIDs(w.BookIDsToDelete)
	case BatchStatusChange:
		out.Payload = StatusChanges(w.StatusChanges)
	default:
		return &BatchValidationError{Reason: fmt.Sprintf("unknown batch operation %q", w.Operation)}
	}

	*r = out
	return nil
}

func (r BatchRequest) MarshalJSON() ([]byte, error) {
	continueOnError := r.ContinueOnError
	maxBatchSize := r.MaxBatchSize
	w := batchRequestWire{
		RequestID:       r.RequestID,
		UserID:          r.UserID,
		Operation:       r.Operation(),
		ContinueOnError: &continueOnError,
		MaxBatchSize:    &maxBatchSize,
	}
	switch p := r.Payload.(type) {
	case CreateItems:
		w.BooksToCreate = p
	case UpdateItems:
		w.BooksToUpdate = p
	case DeleteIDs:
		w.BookIDsToDelete = p
	case StatusChanges:
		w.StatusChanges = p
	}
	return json.Marshal(w)
}

// MutationResult es lo que devuelve el almacén por cada elemento aplicado.
type MutationResult struct {
	Index     int // posición 0-based en la petición
	Entity    *Book
	Previous  *Book
	Operation BatchOperation
	Reason    string // motivo del cambio de estado, si lo hay
}

// BatchReport resume el resultado de un lote. Con fallos parciales el lote
// no es un error: los fallos viajan aquí.
type BatchReport struct {
	BatchID          string         `json:"batchId"`
	CorrelationID    string         `json:"correlationId"`
	Operation        BatchOperation `json:"operation"`
	EventType        EventType      `json:"eventType"`
	Total            int            `json:"total"`
	Published        []string       `json:"published"`
	Failed           []ItemFailure  `json:"failed,omitempty"`
	SummaryPublished bool           `json:"summaryPublished"`
	Aborted          bool           `json:"aborted,omitempty"`
	Replayed         bool           `json:"replayed,omitempty"`
}

func (r *BatchReport) PartialFailure() bool {
	return len(r.Failed) > 0
}

// FailedIDs devuelve los ids fallidos en orden de la petición.
func (r *BatchReport) FailedIDs() []string {
	ids := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		ids = append(ids, f.ID)
	}
	return ids
}
