package domain

import (
	"fmt"
	"strings"
	"time"
)

// BookDraft son los datos de alta de un libro.
type BookDraft struct {
	Title           string     `json:"title" binding:"required,max=500"`
	Description     string     `json:"description,omitempty" binding:"max=5000"`
	Authors         []Author   `json:"authors" binding:"required,min=1"`
	Tags            []string   `json:"tags,omitempty"`
	Categories      []string   `json:"categories,omitempty"`
	Language        string     `json:"language" binding:"required,len=2"`
	PublicationDate *time.Time `json:"publicationDate,omitempty"`
	UploadedBy      string     `json:"uploadedBy" binding:"required"`
	CoverURL        string     `json:"coverUrl,omitempty"`
	FilePath        string     `json:"filePath,omitempty"`
	FileSize        int64      `json:"fileSize,omitempty" binding:"gte=0"`
	ISBN            string     `json:"isbn,omitempty"`
	Publisher       string     `json:"publisher,omitempty"`
	PageCount       int        `json:"pageCount,omitempty" binding:"gte=0"`
}

// NewBook crea el libro en estado ACTIVE, como hace el alta del catálogo.
func NewBook(id string, d BookDraft, now time.Time) (*Book, error) {
	b := &Book{
		ID:              id,
		Title:           strings.TrimSpace(d.Title),
		Description:     d.Description,
		Authors:         append([]Author(nil), d.Authors...),
		Tags:            append([]string(nil), d.Tags...),
		Categories:      append([]string(nil), d.Categories...),
		Language:        d.Language,
		PublicationDate: d.PublicationDate,
		UploadedBy:      d.UploadedBy,
		CoverURL:        d.CoverURL,
		FilePath:        d.FilePath,
		FileSize:        d.FileSize,
		ISBN:            strings.TrimSpace(d.ISBN),
		Publisher:       d.Publisher,
		PageCount:       d.PageCount,
		Status:          BookActive,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.ISBN != "" && !ValidISBN(b.ISBN) {
		return nil, fmt.Errorf("%w: invalid isbn format", ErrInvalidBook)
	}
	return b, nil
}

// BookPatch es una actualización parcial: los campos nil no se tocan.
type BookPatch struct {
	Title           *string     `json:"title,omitempty"`
	Description     *string     `json:"description,omitempty"`
	Authors         []Author    `json:"authors,omitempty"`
	Tags            []string    `json:"tags,omitempty"`
	Categories      []string    `json:"categories,omitempty"`
	Language        *string     `json:"language,omitempty"`
	PublicationDate *time.Time  `json:"publicationDate,omitempty"`
	CoverURL        *string     `json:"coverUrl,omitempty"`
	FilePath        *string     `json:"filePath,omitempty"`
	FileSize        *int64      `json:"fileSize,omitempty"`
	ISBN            *string     `json:"isbn,omitempty"`
	Publisher       *string     `json:"publisher,omitempty"`
	PageCount       *int        `json:"pageCount,omitempty"`
	AverageRating   *float64    `json:"averageRating,omitempty"`
	ReviewCount     *int        `json:"reviewCount,omitempty"`
	DownloadCount   *int        `json:"downloadCount,omitempty"`
	Status          *BookStatus `json:"status,omitempty"`
}

// ISBNChange devuelve el nuevo ISBN si el parche lo cambia respecto a current.
func (p BookPatch) ISBNChange(current string) (string, bool) {
	if p.ISBN == nil {
		return "", false
	}
	isbn := strings.TrimSpace(*p.ISBN)
	return isbn, isbn != "" && isbn != current
}

// ApplyTo devuelve una copia de b con el parche aplicado y validada.
func (p BookPatch) ApplyTo(b *Book, now time.Time) (*Book, error) {
	out := b.Clone()
	setIf(&out.Title, p.Title)
	setIf(&out.Description, p.Description)
	setIf(&out.Language, p.Language)
	setIf(&out.CoverURL, p.CoverURL)
	setIf(&out.FilePath, p.FilePath)
	setIf(&out.FileSize, p.FileSize)
	setIf(&out.ISBN, p.ISBN)
	setIf(&out.Publisher, p.Publisher)
	setIf(&out.PageCount, p.PageCount)
	setIf(&out.AverageRating, p.AverageRating)
	setIf(&out.ReviewCount, p.ReviewCount)
	setIf(&out.DownloadCount, p.DownloadCount)
	setIf(&out.Status, p.Status)
	if p.PublicationDate != nil {
		out.PublicationDate = p.PublicationDate
	}
	if p.Authors != nil {
		out.Authors = append([]Author(nil), p.Authors...)
	}
	if p.Tags != nil {
		out.Tags = append([]string(nil), p.Tags...)
	}
	if p.Categories != nil {
		out.Categories = append([]string(nil), p.Categories...)
	}
	out.UpdatedAt = now
	out.Version = b.Version + 1

	if err := out.Validate(); err != nil {
		return nil, err
	}
	if p.ISBN != nil && out.ISBN != "" && !ValidISBN(out.ISBN) {
		return nil, fmt.Errorf("%w: invalid isbn format", ErrInvalidBook)
	}
	return out, nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// ValidISBN acepta ISBN-10 e ISBN-13 con guiones o espacios opcionales.
func ValidISBN(raw string) bool {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "ISBN-13")
	s = strings.TrimPrefix(s, "ISBN-10")
	s = strings.TrimPrefix(s, "ISBN")
	s = strings.TrimLeft(s, ": ")
	s = strings.NewReplacer("-", "", " ", "").Replace(s)

	switch len(s) {
	case 10:
		for i, r := range s {
			if (r < '0' || r > '9') && !(r == 'X' && i == 9) {
				return false
			}
		}
		return true
	case 13:
		if !strings.HasPrefix(s, "978") && !strings.HasPrefix(s, "979") {
			return false
		}
		for _, r := range s {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	return false
}
