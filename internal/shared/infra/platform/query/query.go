package query

import (
	"errors"
	"math"
)

// ---------- Paginación / ordenamiento ----------

const (
	DefaultPageSize = 20
	MaxPageSize     = 1000
)

// OffsetPagination es lo que entienden los repositorios.
type OffsetPagination struct {
	Limit  int
	Offset int
}

// Sort indica campo y dirección.
type Sort struct {
	Field string // ej. "createdAt", "title"
	Desc  bool
}

// PageRequest es la paginación pública: página base 0 y tamaño.
type PageRequest struct {
	Page int
	Size int
}

// WithDefaults rellena el tamaño si no viene.
func (p PageRequest) WithDefaults() PageRequest {
	if p.Size == 0 {
		p.Size = DefaultPageSize
	}
	return p
}

func (p PageRequest) Validate() error {
	if p.Page < 0 {
		return errors.New("page must be non-negative")
	}
	if p.Size < 1 || p.Size > MaxPageSize {
		return errors.New("size must be between 1 and 1000")
	}
	return nil
}

func (p PageRequest) Offset() OffsetPagination {
	return OffsetPagination{Limit: p.Size, Offset: p.Page * p.Size}
}

// ---------- Respuesta paginada ----------

type SortInfo struct {
	Sorted    bool   `json:"sorted"`
	Direction string `json:"direction,omitempty"`
	Property  string `json:"property,omitempty"`
}

type Page[T any] struct {
	Content          []T      `json:"content"`
	Page             int      `json:"page"`
	Size             int      `json:"size"`
	TotalElements    int64    `json:"totalElements"`
	TotalPages       int      `json:"totalPages"`
	First            bool     `json:"first"`
	Last             bool     `json:"last"`
	NumberOfElements int      `json:"numberOfElements"`
	Empty            bool     `json:"empty"`
	Sort             SortInfo `json:"sort"`
}

func NewPage[T any](content []T, req PageRequest, total int64, sort Sort) Page[T] {
	if content == nil {
		content = []T{}
	}
	totalPages := 0
	if req.Size > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(req.Size)))
	}

	info := SortInfo{}
	if sort.Field != "" {
		info = SortInfo{Sorted: true, Direction: "ASC", Property: sort.Field}
		if sort.Desc {
			info.Direction = "DESC"
		}
	}

	return Page[T]{
		Content:          content,
		Page:             req.Page,
		Size:             req.Size,
		TotalElements:    total,
		TotalPages:       totalPages,
		First:            req.Page == 0,
		Last:             req.Page >= totalPages-1,
		NumberOfElements: len(content),
		Empty:            len(content) == 0,
		Sort:             info,
	}
}
