package domain

import (
	"fmt"
	"strings"
	"time"

	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

// Campos filtrables. Coinciden con los nombres del documento en Mongo.
const (
	FieldID              = "id"
	FieldTitle           = "title"
	FieldDescription     = "description"
	FieldAuthorName      = "authors.name"
	FieldLanguage        = "language"
	FieldPublisher       = "publisher"
	FieldISBN            = "isbn"
	FieldStatus          = "status"
	FieldTags            = "tags"
	FieldCategories      = "categories"
	FieldPublicationDate = "publicationDate"
	FieldAverageRating   = "averageRating"
	FieldPageCount       = "pageCount"
	FieldDownloadCount   = "downloadCount"
	FieldUploadedBy      = "uploadedBy"
	FieldCreatedAt       = "createdAt"
	FieldUpdatedAt       = "updatedAt"
)

var sortableFields = map[string]bool{
	FieldTitle: true, FieldLanguage: true, FieldPublisher: true, FieldStatus: true,
	FieldPublicationDate: true, FieldAverageRating: true, FieldPageCount: true,
	FieldDownloadCount: true, FieldCreatedAt: true, FieldUpdatedAt: true,
}

// ---------------- Criterios de libro ----------------

type StatusCriteria struct {
	Status BookStatus
}

func (c StatusCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: FieldStatus, Op: sharedDomain.OpEq, Value: string(c.Status)}}
}

// NotDeletedCriteria excluye los borrados lógicos.
type NotDeletedCriteria struct{}

func (NotDeletedCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: FieldStatus, Op: sharedDomain.OpNe, Value: string(BookDeleted)}}
}

// EqualCriteria compara un campo de texto exacto (language, isbn, uploadedBy).
type EqualCriteria struct {
	Field string
	Value string
}

func (c EqualCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: c.Field, Op: sharedDomain.OpEq, Value: c.Value}}
}

// LikeCriteria busca una subcadena sin distinguir mayúsculas.
type LikeCriteria struct {
	Field string
	Value string
}

func (c LikeCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: c.Field, Op: sharedDomain.OpILike, Value: c.Value}}
}

// AnyOfCriteria se cumple si el campo lista contiene alguno de los valores.
type AnyOfCriteria struct {
	Field  string
	Values []string
}

func (c AnyOfCriteria) ToConditions() []sharedDomain.Criterion {
	return []sharedDomain.Criterion{{Field: c.Field, Op: sharedDomain.OpIn, Value: c.Values}}
}

type DateRangeCriteria struct {
	Field    string
	From, To *time.Time
}

func (c DateRangeCriteria) ToConditions() []sharedDomain.Criterion {
	var conds []sharedDomain.Criterion
	if c.From != nil {
		conds = append(conds, sharedDomain.Criterion{Field: c.Field, Op: sharedDomain.OpGte, Value: *c.From})
	}
	if c.To != nil {
		conds = append(conds, sharedDomain.Criterion{Field: c.Field, Op: sharedDomain.OpLte, Value: *c.To})
	}
	return conds
}

// NumberRangeCriteria: los límites ausentes no filtran.
type NumberRangeCriteria struct {
	Field    string
	Min, Max *float64
}

func (c NumberRangeCriteria) ToConditions() []sharedDomain.Criterion {
	var conds []sharedDomain.Criterion
	if c.Min != nil {
		conds = append(conds, sharedDomain.Criterion{Field: c.Field, Op: sharedDomain.OpGte, Value: *c.Min})
	}
	if c.Max != nil {
		conds = append(conds, sharedDomain.Criterion{Field: c.Field, Op: sharedDomain.OpLte, Value: *c.Max})
	}
	return conds
}

// TextSearchCriteria busca el texto en título, descripción o nombre de autor.
type TextSearchCriteria struct {
	Text string
}

func (c TextSearchCriteria) ToConditions() []sharedDomain.Criterion {
	return sharedDomain.Or(
		LikeCriteria{Field: FieldTitle, Value: c.Text},
		LikeCriteria{Field: FieldDescription, Value: c.Text},
		LikeCriteria{Field: FieldAuthorName, Value: c.Text},
	).ToConditions()
}

// ---------------- Búsqueda ----------------

// BookFilter son los filtros opcionales de una búsqueda; los vacíos no filtran.
type BookFilter struct {
	SearchText          string     `json:"searchText,omitempty"`
	Title               string     `json:"title,omitempty"`
	AuthorName          string     `json:"authorName,omitempty"`
	Categories          []string   `json:"categories,omitempty"`
	Tags                []string   `json:"tags,omitempty"`
	Language            string     `json:"language,omitempty"`
	Publisher           string     `json:"publisher,omitempty"`
	ISBN                string     `json:"isbn,omitempty"`
	UploadedBy          string     `json:"uploadedBy,omitempty"`
	Status              BookStatus `json:"status,omitempty"`
	PublicationDateFrom *time.Time `json:"publicationDateFrom,omitempty"`
	PublicationDateTo   *time.Time `json:"publicationDateTo,omitempty"`
	MinRating           *float64   `json:"minRating,omitempty"`
	MaxRating           *float64   `json:"maxRating,omitempty"`
	MinPages            *int       `json:"minPages,omitempty"`
	MaxPages            *int       `json:"maxPages,omitempty"`
}

// Pagination: página base 0; SortDirection es ASC o DESC.
type Pagination struct {
	Page          int    `json:"page" form:"page"`
	Size          int    `json:"size" form:"size"`
	SortBy        string `json:"sortBy,omitempty" form:"sortBy"`
	SortDirection string `json:"sortDirection,omitempty" form:"sortDirection"`
}

func (p Pagination) Request() query.PageRequest {
	return query.PageRequest{Page: p.Page, Size: p.Size}.WithDefaults()
}

// SortOrder devuelve el orden pedido o def si no se pidió ninguno.
func (p Pagination) SortOrder(def query.Sort) query.Sort {
	if p.SortBy == "" {
		return def
	}
	return query.Sort{Field: p.SortBy, Desc: strings.EqualFold(p.SortDirection, "DESC")}
}

func (p Pagination) Validate() error {
	if err := p.Request().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if p.SortBy != "" && !sortableFields[p.SortBy] {
		return fmt.Errorf("%w: cannot sort by %q", ErrInvalidQuery, p.SortBy)
	}
	switch strings.ToUpper(p.SortDirection) {
	case "", "ASC", "DESC":
	default:
		return fmt.Errorf("%w: sort direction must be ASC or DESC", ErrInvalidQuery)
	}
	return nil
}

// BookSearch es una búsqueda paginada. Los borrados quedan fuera salvo que se
// pidan explícitamente o se filtre por estado.
type BookSearch struct {
	Pagination
	Filters        BookFilter `json:"filters"`
	IncludeDeleted bool       `json:"includeDeleted,omitempty"`
}

func (s BookSearch) Validate() error {
	if err := s.Pagination.Validate(); err != nil {
		return err
	}
	f := s.Filters
	switch {
	case f.Status != "" && !f.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidQuery, f.Status)
	case f.MinRating != nil && f.MaxRating != nil && *f.MinRating > *f.MaxRating:
		return fmt.Errorf("%w: minRating cannot exceed maxRating", ErrInvalidQuery)
	case f.MinPages != nil && f.MaxPages != nil && *f.MinPages > *f.MaxPages:
		return fmt.Errorf("%w: minPages cannot exceed maxPages", ErrInvalidQuery)
	case f.PublicationDateFrom != nil && f.PublicationDateTo != nil && f.PublicationDateFrom.After(*f.PublicationDateTo):
		return fmt.Errorf("%w: publicationDateFrom cannot be after publicationDateTo", ErrInvalidQuery)
	}
	return nil
}

// Criteria traduce los filtros a un AND de criterios.
func (s BookSearch) Criteria() sharedDomain.Criteria {
	f := s.Filters
	var all []sharedDomain.Criteria

	switch {
	case f.Status != "":
		all = append(all, StatusCriteria{Status: f.Status})
	case !s.IncludeDeleted:
		all = append(all, NotDeletedCriteria{})
	}
	if text := strings.TrimSpace(f.SearchText); text != "" {
		all = append(all, TextSearchCriteria{Text: text})
	}
	for _, like := range []LikeCriteria{
		{Field: FieldTitle, Value: f.Title},
		{Field: FieldAuthorName, Value: f.AuthorName},
		{Field: FieldPublisher, Value: f.Publisher},
	} {
		if like.Value = strings.TrimSpace(like.Value); like.Value != "" {
			all = append(all, like)
		}
	}
	for _, eq := range []EqualCriteria{
		{Field: FieldLanguage, Value: f.Language},
		{Field: FieldISBN, Value: f.ISBN},
		{Field: FieldUploadedBy, Value: f.UploadedBy},
	} {
		if eq.Value != "" {
			all = append(all, eq)
		}
	}
	if len(f.Categories) > 0 {
		all = append(all, AnyOfCriteria{Field: FieldCategories, Values: f.Categories})
	}
	if len(f.Tags) > 0 {
		all = append(all, AnyOfCriteria{Field: FieldTags, Values: f.Tags})
	}
	all = append(all,
		DateRangeCriteria{Field: FieldPublicationDate, From: f.PublicationDateFrom, To: f.PublicationDateTo},
		NumberRangeCriteria{Field: FieldAverageRating, Min: f.MinRating, Max: f.MaxRating},
		NumberRangeCriteria{Field: FieldPageCount, Min: intToFloat(f.MinPages), Max: intToFloat(f.MaxPages)},
	)
	return sharedDomain.And(all...)
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
