package application

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const (
	CorrelationPrefixBook  = "book-mgmt"
	CorrelationPrefixBatch = "batch"
)

// IdentityGenerator genera ids sin estado compartido: es seguro entre goroutines.
type IdentityGenerator struct{}

func NewIdentityGenerator() *IdentityGenerator {
	return &IdentityGenerator{}
}

// EventID es un UUIDv4 nuevo por cada intento de publicación.
func (IdentityGenerator) EventID() string {
	return uuid.NewString()
}

// CorrelationID devuelve "<prefix>-<8 hex>".
func (IdentityGenerator) CorrelationID(prefix string) string {
	return prefix + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// BatchID es la clave de partición sintética de los resúmenes de lote.
func (IdentityGenerator) BatchID() string {
	return "batch-" + uuid.NewString()
}

func (IdentityGenerator) BookID() string {
	return uuid.NewString()
}

type correlationKey struct{}

// WithCorrelationID guarda en el ctx el id de correlación recibido (p. ej. la cabecera HTTP).
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// correlationFor prioriza el id que llega en el ctx; si no hay, genera uno.
func (g IdentityGenerator) correlationFor(ctx context.Context, prefix string) string {
	if id := CorrelationIDFrom(ctx); id != "" {
		return id
	}
	return g.CorrelationID(prefix)
}
