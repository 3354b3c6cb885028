package http

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

func titles(page query.Page[domain.Book]) []string {
	out := make([]string, 0, len(page.Content))
	for _, b := range page.Content {
		out = append(out, b.Title)
	}
	return out
}

func TestListBooks(t *testing.T) {
	f := newAPI(t, nil)
	f.create(t, "Ficciones")
	f.create(t, "Aleph")
	gone := f.create(t, "Borrado")
	require.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/books/"+gone.ID, nil, nil).Code)

	w := f.do(http.MethodGet, "/books?size=1&sortBy=title&sortDirection=ASC", nil, nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	page := decode[query.Page[domain.Book]](t, w).Data
	assert.Equal(t, []string{"Aleph"}, titles(page))
	assert.EqualValues(t, 2, page.TotalElements)
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, query.SortInfo{Sorted: true, Direction: "ASC", Property: "title"}, page.Sort)
}

func TestListBooks_InvalidPagination(t *testing.T) {
	f := newAPI(t, nil)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/books?size=0&page=-1", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/books?page=abc", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/books?sortBy=filePath", nil, nil).Code)
}

func TestSearchBooks(t *testing.T) {
	f := newAPI(t, nil)
	f.create(t, "Ficciones")
	f.create(t, "Aleph")

	w := f.do(http.MethodPost, "/books/search", map[string]any{
		"filters": map[string]any{"searchText": "alep"},
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"Aleph"}, titles(decode[query.Page[domain.Book]](t, w).Data))

	w = f.do(http.MethodPost, "/books/search", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode[query.Page[domain.Book]](t, w).Data.TotalElements)

	w = f.do(http.MethodPost, "/books/search", map[string]any{
		"filters": map[string]any{"minRating": 4, "maxRating": 1},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSearchBooksByField(t *testing.T) {
	f := newAPI(t, nil)
	f.create(t, "Ficciones")
	history := draftBody("Historia de Roma")
	history["categories"] = []string{"history"}
	history["language"] = "it"
	history["uploadedBy"] = "user-9"
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/books", history, nil).Code)

	tests := []struct {
		name string
		path string
		body any
	}{
		{"categoría por query", "/books/search/by-category?categories=poetry,history", nil},
		{"categoría por cuerpo", "/books/search/by-category", map[string]any{"categories": []string{"history"}}},
		{"idioma", "/books/search/by-language?language=it&page=0&size=5", nil},
		{"usuario", "/books/search/by-uploader", map[string]any{"uploadedBy": "user-9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, tt.path, tt.body, nil)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []string{"Historia de Roma"}, titles(decode[query.Page[domain.Book]](t, w).Data))
		})
	}

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/books/search/by-language", nil, nil).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/books/search/by-category?size=x&categories=a", nil, nil).Code)
}

func TestCountAndExists(t *testing.T) {
	f := newAPI(t, nil)
	book := f.create(t, "Ficciones")
	f.create(t, "Aleph")

	w := f.do(http.MethodGet, "/books/count", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 2, decode[int64](t, w).Data)

	w = f.do(http.MethodGet, "/books/"+book.ID+"/exists", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[bool](t, w).Data)

	w = f.do(http.MethodGet, "/books/missing/exists", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[bool](t, w).Data)
}
