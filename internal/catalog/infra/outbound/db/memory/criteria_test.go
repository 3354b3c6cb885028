package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func seedCatalog(t *testing.T) *BookRepo {
	t.Helper()
	published := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := NewBookRepo()
	for _, b := range []*domain.Book{
		{ID: "b1", Title: "Go en la práctica", Description: "concurrencia", Authors: []domain.Author{{Name: "Ana Pérez"}},
			Language: "es", Categories: []string{"tech"}, Tags: []string{"go"}, AverageRating: 4.5, PageCount: 300,
			UploadedBy: "u1", Status: domain.BookActive, CreatedAt: day(1), PublicationDate: &published},
		{ID: "b2", Title: "Rust avanzado", Authors: []domain.Author{{Name: "Luis"}, {Name: "Marta Gonzalo"}},
			Language: "en", Categories: []string{"tech", "science"}, AverageRating: 3, PageCount: 500,
			UploadedBy: "u2", Status: domain.BookActive, CreatedAt: day(2)},
		{ID: "b3", Title: "Poemas", Description: "versos escritos en Golang", Authors: []domain.Author{{Name: "Eva"}},
			Language: "es", Categories: []string{"poetry"}, AverageRating: 4.9, PageCount: 90,
			UploadedBy: "u1", Status: domain.BookInactive, CreatedAt: day(3)},
		{ID: "b4", Title: "Go borrado", Authors: []domain.Author{{Name: "Ana Pérez"}},
			Language: "es", Categories: []string{"tech"}, AverageRating: 2, PageCount: 120,
			UploadedBy: "u1", Status: domain.BookDeleted, CreatedAt: day(4)},
	} {
		require.NoError(t, repo.Create(context.Background(), b))
	}
	return repo
}

func search(t *testing.T, repo *BookRepo, s domain.BookSearch) []string {
	t.Helper()
	require.NoError(t, s.Validate())
	req := s.Request()
	books, err := repo.List(context.Background(), s.Criteria(), req.Offset(),
		s.SortOrder(query.Sort{Field: domain.FieldCreatedAt, Desc: true}))
	require.NoError(t, err)
	ids := make([]string, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}
	return ids
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }

func TestBookRepo_ListFilters(t *testing.T) {
	repo := seedCatalog(t)
	from := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		search domain.BookSearch
		want   []string
	}{
		{"sin filtros excluye borrados", domain.BookSearch{}, []string{"b3", "b2", "b1"}},
		{"texto en título, descripción o autor", domain.BookSearch{Filters: domain.BookFilter{SearchText: "GO"}}, []string{"b3", "b2", "b1"}},
		{"texto sólo en título y descripción", domain.BookSearch{Filters: domain.BookFilter{SearchText: "golang"}}, []string{"b3"}},
		{"alguna categoría", domain.BookSearch{Filters: domain.BookFilter{Categories: []string{"science", "poetry"}}}, []string{"b3", "b2"}},
		{"rango de valoración y páginas", domain.BookSearch{Filters: domain.BookFilter{MinRating: floatPtr(4), MaxPages: intPtr(200)}}, []string{"b3"}},
		{"fecha de publicación", domain.BookSearch{Filters: domain.BookFilter{PublicationDateFrom: &from}}, []string{"b1"}},
		{"autor parcial", domain.BookSearch{Filters: domain.BookFilter{AuthorName: "pérez"}}, []string{"b1"}},
		{"incluye borrados", domain.BookSearch{IncludeDeleted: true, Filters: domain.BookFilter{Language: "es"}}, []string{"b4", "b3", "b1"}},
		{"estado explícito", domain.BookSearch{Filters: domain.BookFilter{Status: domain.BookDeleted}}, []string{"b4"}},
		{"subidos por", domain.BookSearch{Filters: domain.BookFilter{UploadedBy: "u2"}}, []string{"b2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, search(t, repo, tt.search))
		})
	}
}

func TestBookRepo_ListSortsAndPaginates(t *testing.T) {
	repo := seedCatalog(t)

	s := domain.BookSearch{
		Pagination:     domain.Pagination{Page: 1, Size: 2, SortBy: domain.FieldTitle, SortDirection: "asc"},
		IncludeDeleted: true,
	}
	assert.Equal(t, []string{"b3", "b2"}, search(t, repo, s))

	s.Page = 5
	assert.Empty(t, search(t, repo, s))

	s = domain.BookSearch{Pagination: domain.Pagination{SortBy: domain.FieldAverageRating, SortDirection: "DESC"}}
	assert.Equal(t, []string{"b3", "b1", "b2"}, search(t, repo, s))
}

func TestBookRepo_CountAndExists(t *testing.T) {
	repo := seedCatalog(t)
	ctx := context.Background()

	n, err := repo.Count(ctx, domain.StatusCriteria{Status: domain.BookActive})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = repo.Count(ctx, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)

	ok, err := repo.Exists(ctx, "b4")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
