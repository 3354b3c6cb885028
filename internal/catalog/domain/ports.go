package domain

import (
	"context"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

// BookRepository es el almacén de registros. Update persiste el libro completo
// (también los borrados lógicos) y devuelve ErrBookNotFound si no existe.
type BookRepository interface {
	Create(ctx context.Context, b *Book) error
	Update(ctx context.Context, b *Book) error
	GetByID(ctx context.Context, id string) (*Book, error)
	ExistsByISBN(ctx context.Context, isbn, excludeID string) (bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, c sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*Book, error)
	Count(ctx context.Context, c sharedDomain.Criteria) (int64, error)
	Ping(ctx context.Context) error
}

// TxRunner ejecuta fn dentro de una transacción del almacén. El ctx que recibe
// fn lleva la transacción; todo lo que se escriba con él se confirma junto.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// NoTx ejecuta fn sin transacción (modo de publicación directa).
type NoTx struct{}

func (NoTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
