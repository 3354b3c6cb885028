package application

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

// BookPage es una página de libros.
type BookPage = query.Page[*domain.Book]

var newestFirst = query.Sort{Field: domain.FieldCreatedAt, Desc: true}

// ListBooks devuelve los libros activos, los más recientes primero.
func (s *CatalogService) ListBooks(ctx context.Context, p domain.Pagination) (BookPage, error) {
	return s.SearchBooks(ctx, domain.BookSearch{
		Pagination: p,
		Filters:    domain.BookFilter{Status: domain.BookActive},
	})
}

// SearchBooks aplica los filtros de search y pagina el resultado.
func (s *CatalogService) SearchBooks(ctx context.Context, search domain.BookSearch) (BookPage, error) {
	if err := search.Validate(); err != nil {
		return BookPage{}, err
	}
	return s.page(ctx, search.Criteria(), search.Pagination)
}

// BooksByCategory devuelve los libros no borrados con alguna de las categorías.
func (s *CatalogService) BooksByCategory(ctx context.Context, categories []string, p domain.Pagination) (BookPage, error) {
	var clean []string
	for _, c := range categories {
		if c = strings.TrimSpace(c); c != "" {
			clean = append(clean, c)
		}
	}
	if len(clean) == 0 {
		return BookPage{}, fmt.Errorf("%w: at least one category is required", domain.ErrInvalidQuery)
	}
	return s.SearchBooks(ctx, domain.BookSearch{Pagination: p, Filters: domain.BookFilter{Categories: clean}})
}

func (s *CatalogService) BooksByLanguage(ctx context.Context, language string, p domain.Pagination) (BookPage, error) {
	if strings.TrimSpace(language) == "" {
		return BookPage{}, fmt.Errorf("%w: language is required", domain.ErrInvalidQuery)
	}
	return s.SearchBooks(ctx, domain.BookSearch{Pagination: p, Filters: domain.BookFilter{Language: language}})
}

func (s *CatalogService) BooksByUploader(ctx context.Context, uploadedBy string, p domain.Pagination) (BookPage, error) {
	if strings.TrimSpace(uploadedBy) == "" {
		return BookPage{}, fmt.Errorf("%w: uploadedBy is required", domain.ErrInvalidQuery)
	}
	return s.SearchBooks(ctx, domain.BookSearch{Pagination: p, Filters: domain.BookFilter{UploadedBy: uploadedBy}})
}

// CountBooks cuenta los libros activos.
func (s *CatalogService) CountBooks(ctx context.Context) (int64, error) {
	return s.repo.Count(ctx, domain.StatusCriteria{Status: domain.BookActive})
}

// BookExists no mira el estado: un libro borrado sigue existiendo.
func (s *CatalogService) BookExists(ctx context.Context, id string) (bool, error) {
	return s.repo.Exists(ctx, id)
}

func (s *CatalogService) page(ctx context.Context, c sharedDomain.Criteria, p domain.Pagination) (BookPage, error) {
	req := p.Request()
	sort := p.SortOrder(newestFirst)

	var (
		books []*domain.Book
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		books, err = s.repo.List(gctx, c, req.Offset(), sort)
		return err
	})
	g.Go(func() (err error) {
		total, err = s.repo.Count(gctx, c)
		return err
	})
	if err := g.Wait(); err != nil {
		s.log.Error("❌ Error consultando libros", zap.Error(err))
		return BookPage{}, err
	}

	return query.NewPage(books, req, total, sort), nil
}
