package memory

import (
	"sort"
	"strings"
	"time"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

// fieldValues devuelve los valores del campo; los campos lista devuelven
// todos sus elementos y basta con que uno cumpla.
func fieldValues(b *domain.Book, field string) []interface{} {
	switch field {
	case domain.FieldID:
		return []interface{}{b.ID}
	case domain.FieldTitle:
		return []interface{}{b.Title}
	case domain.FieldDescription:
		return []interface{}{b.Description}
	case domain.FieldAuthorName:
		vals := make([]interface{}, 0, len(b.Authors))
		for _, a := range b.Authors {
			vals = append(vals, a.Name)
		}
		return vals
	case domain.FieldLanguage:
		return []interface{}{b.Language}
	case domain.FieldPublisher:
		return []interface{}{b.Publisher}
	case domain.FieldISBN:
		return []interface{}{b.ISBN}
	case domain.FieldStatus:
		return []interface{}{string(b.Status)}
	case domain.FieldUploadedBy:
		return []interface{}{b.UploadedBy}
	case domain.FieldTags:
		return stringsToValues(b.Tags)
	case domain.FieldCategories:
		return stringsToValues(b.Categories)
	case domain.FieldPublicationDate:
		if b.PublicationDate == nil {
			return nil
		}
		return []interface{}{*b.PublicationDate}
	case domain.FieldAverageRating:
		return []interface{}{b.AverageRating}
	case domain.FieldPageCount:
		return []interface{}{float64(b.PageCount)}
	case domain.FieldDownloadCount:
		return []interface{}{float64(b.DownloadCount)}
	case domain.FieldCreatedAt:
		return []interface{}{b.CreatedAt}
	case domain.FieldUpdatedAt:
		return []interface{}{b.UpdatedAt}
	}
	return nil
}

func stringsToValues(ss []string) []interface{} {
	vals := make([]interface{}, 0, len(ss))
	for _, s := range ss {
		vals = append(vals, s)
	}
	return vals
}

func matchBook(b *domain.Book, conds []sharedDomain.Criterion) bool {
	for _, c := range conds {
		if !matchCriterion(b, c) {
			return false
		}
	}
	return true
}

func matchCriterion(b *domain.Book, c sharedDomain.Criterion) bool {
	if len(c.Any) > 0 {
		for _, group := range c.Any {
			if matchBook(b, group) {
				return true
			}
		}
		return false
	}

	vals := fieldValues(b, c.Field)
	if c.Op == sharedDomain.OpNe {
		for _, v := range vals {
			if cmp, ok := compare(v, c.Value); ok && cmp == 0 {
				return false
			}
		}
		return true
	}
	for _, v := range vals {
		if matchValue(v, c.Op, c.Value) {
			return true
		}
	}
	return false
}

func matchValue(v interface{}, op sharedDomain.Operator, want interface{}) bool {
	switch op {
	case sharedDomain.OpILike:
		s, ok := v.(string)
		w, _ := want.(string)
		return ok && strings.Contains(strings.ToLower(s), strings.ToLower(w))
	case sharedDomain.OpIn:
		wants, _ := want.([]string)
		for _, w := range wants {
			if v == w {
				return true
			}
		}
		return false
	}

	cmp, ok := compare(v, want)
	if !ok {
		return false
	}
	switch op {
	case sharedDomain.OpEq:
		return cmp == 0
	case sharedDomain.OpGt:
		return cmp > 0
	case sharedDomain.OpGte:
		return cmp >= 0
	case sharedDomain.OpLt:
		return cmp < 0
	case sharedDomain.OpLte:
		return cmp <= 0
	}
	return false
}

// compare devuelve -1, 0 o 1; ok es false si los tipos no son comparables.
func compare(a, b interface{}) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case float64:
		y, ok := toFloat(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// sortBooks ordena por el campo pedido; los empates se resuelven por ID.
func sortBooks(books []*domain.Book, s query.Sort) {
	sort.SliceStable(books, func(i, j int) bool {
		if s.Field != "" {
			cmp := compareField(books[i], books[j], s.Field)
			if cmp != 0 {
				if s.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return books[i].ID < books[j].ID
	})
}

// compareField ordena los valores ausentes antes que los presentes.
func compareField(b1, b2 *domain.Book, field string) int {
	v1, v2 := fieldValues(b1, field), fieldValues(b2, field)
	switch {
	case len(v1) == 0 && len(v2) == 0:
		return 0
	case len(v1) == 0:
		return -1
	case len(v2) == 0:
		return 1
	}
	cmp, _ := compare(v1[0], v2[0])
	return cmp
}

func paginate(books []*domain.Book, p query.OffsetPagination) []*domain.Book {
	if p.Offset >= len(books) {
		return []*domain.Book{}
	}
	end := len(books)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return books[p.Offset:end]
}
