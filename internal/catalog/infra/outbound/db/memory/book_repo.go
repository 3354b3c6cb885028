package memory

import (
	"context"
	"sync"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

// BookRepo guarda copias de los libros en un mapa. Sirve para ejecuciones
// locales (STORE=memory) y para los tests del servicio.
type BookRepo struct {
	mu    sync.RWMutex
	books map[string]*domain.Book
}

func NewBookRepo() *BookRepo {
	return &BookRepo{books: make(map[string]*domain.Book)}
}

type journalKey struct{}

// journal guarda el estado previo de cada libro tocado en la transacción;
// nil significa que no existía.
type journal struct {
	prev map[string]*domain.Book
}

// WithinTx deshace las escrituras hechas con el ctx de fn si fn falla.
// Las transacciones anidadas se unen a la exterior.
func (r *BookRepo) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(journalKey{}).(*journal); ok {
		return fn(ctx)
	}
	j := &journal{prev: make(map[string]*domain.Book)}
	if err := fn(context.WithValue(ctx, journalKey{}, j)); err != nil {
		r.rollback(j)
		return err
	}
	return nil
}

func (r *BookRepo) rollback(j *journal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, b := range j.prev {
		if b == nil {
			delete(r.books, id)
			continue
		}
		r.books[id] = b
	}
}

// record se llama con el lock de escritura tomado.
func (r *BookRepo) record(ctx context.Context, id string) {
	j, ok := ctx.Value(journalKey{}).(*journal)
	if !ok {
		return
	}
	if _, seen := j.prev[id]; !seen {
		j.prev[id] = r.books[id]
	}
}

func (r *BookRepo) Create(ctx context.Context, b *domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[b.ID]; ok {
		return domain.ErrBookAlreadyExists
	}
	r.record(ctx, b.ID)
	r.books[b.ID] = b.Clone()
	return nil
}

func (r *BookRepo) Update(ctx context.Context, b *domain.Book) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[b.ID]; !ok {
		return domain.ErrBookNotFound
	}
	r.record(ctx, b.ID)
	r.books[b.ID] = b.Clone()
	return nil
}

func (r *BookRepo) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[id]
	if !ok {
		return nil, domain.ErrBookNotFound
	}
	return b.Clone(), nil
}

func (r *BookRepo) ExistsByISBN(ctx context.Context, isbn, excludeID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, b := range r.books {
		if b.ISBN == isbn && id != excludeID && b.Status != domain.BookDeleted {
			return true, nil
		}
	}
	return false, nil
}

func (r *BookRepo) Exists(ctx context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.books[id]
	return ok, nil
}

func (r *BookRepo) List(ctx context.Context, c sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*domain.Book, error) {
	matched := r.matching(c)
	sortBooks(matched, sort)
	return paginate(matched, page), nil
}

func (r *BookRepo) Count(ctx context.Context, c sharedDomain.Criteria) (int64, error) {
	return int64(len(r.matching(c))), nil
}

// matching devuelve copias de los libros que cumplen c.
func (r *BookRepo) matching(c sharedDomain.Criteria) []*domain.Book {
	var conds []sharedDomain.Criterion
	if c != nil {
		conds = c.ToConditions()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Book, 0, len(r.books))
	for _, b := range r.books {
		if matchBook(b, conds) {
			out = append(out, b.Clone())
		}
	}
	return out
}

func (r *BookRepo) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len devuelve el número de libros guardados, borrados incluidos.
func (r *BookRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

var (
	_ domain.BookRepository = (*BookRepo)(nil)
	_ domain.TxRunner       = (*BookRepo)(nil)
)
