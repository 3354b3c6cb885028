package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	sharedBus "github.com/davicafu/catalogcdc/internal/shared/infra/platform/bus"
)

type BookStatus string

const (
	BookStatusDraft     BookStatus = "DRAFT"
	BookActive          BookStatus = "ACTIVE"
	BookInactive        BookStatus = "INACTIVE"
	BookArchived        BookStatus = "ARCHIVED"
	BookPendingApproval BookStatus = "PENDING_APPROVAL"
	BookDeleted         BookStatus = "DELETED"
)

// Valid indica si el estado pertenece a la máquina de estados del libro.
func (s BookStatus) Valid() bool {
	switch s {
	case BookStatusDraft, BookActive, BookInactive, BookArchived, BookPendingApproval, BookDeleted:
		return true
	}
	return false
}

// Author es un value object: se copia, no se comparte.
type Author struct {
	ID          string     `json:"id,omitempty" msgpack:"id,omitempty"`
	Name        string     `json:"name" msgpack:"name"`
	Biography   string     `json:"biography,omitempty" msgpack:"biography,omitempty"`
	Nationality string     `json:"nationality,omitempty" msgpack:"nationality,omitempty"`
	BirthDate   *time.Time `json:"birthDate,omitempty" msgpack:"birthDate,omitempty"`
	DeathDate   *time.Time `json:"deathDate,omitempty" msgpack:"deathDate,omitempty"`
}

// Book es el registro del catálogo cuyas mutaciones se publican como CDC.
type Book struct {
	ID              string     `json:"id" msgpack:"id"`
	Title           string     `json:"title" msgpack:"title"`
	Description     string     `json:"description,omitempty" msgpack:"description,omitempty"`
	Authors         []Author   `json:"authors" msgpack:"authors"`
	Tags            []string   `json:"tags,omitempty" msgpack:"tags,omitempty"`
	Categories      []string   `json:"categories,omitempty" msgpack:"categories,omitempty"`
	Language        string     `json:"language" msgpack:"language"`
	PublicationDate *time.Time `json:"publicationDate,omitempty" msgpack:"publicationDate,omitempty"`
	UploadedBy      string     `json:"uploadedBy" msgpack:"uploadedBy"`
	CoverURL        string     `json:"coverUrl,omitempty" msgpack:"coverUrl,omitempty"`
	AverageRating   float64    `json:"averageRating" msgpack:"averageRating"`
	ReviewCount     int        `json:"reviewCount" msgpack:"reviewCount"`
	DownloadCount   int        `json:"downloadCount" msgpack:"downloadCount"`
	FilePath        string     `json:"filePath,omitempty" msgpack:"filePath,omitempty"`
	FileSize        int64      `json:"fileSize,omitempty" msgpack:"fileSize,omitempty"`
	ISBN            string     `json:"isbn,omitempty" msgpack:"isbn,omitempty"`
	Publisher       string     `json:"publisher,omitempty" msgpack:"publisher,omitempty"`
	PageCount       int        `json:"pageCount,omitempty" msgpack:"pageCount,omitempty"`
	Status          BookStatus `json:"status" msgpack:"status"`
	CreatedAt       time.Time  `json:"createdAt" msgpack:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt" msgpack:"updatedAt"`
	Version         int64      `json:"version" msgpack:"version"`
}

// PartitionKey: todos los eventos de un mismo libro van a la misma partición.
func (b *Book) PartitionKey() string {
	return b.ID
}

var languagePattern = regexp.MustCompile(`^[a-z]{2}$`)

// Validate aplica las reglas mínimas del registro antes de llegar al repositorio.
func (b *Book) Validate() error {
	title := strings.TrimSpace(b.Title)
	switch {
	case title == "" || len(title) > 500:
		return fmt.Errorf("%w: title must be between 1 and 500 characters", ErrInvalidBook)
	case len(b.Description) > 5000:
		return fmt.Errorf("%w: description cannot exceed 5000 characters", ErrInvalidBook)
	case len(b.Authors) == 0:
		return fmt.Errorf("%w: at least one author is required", ErrInvalidBook)
	case !languagePattern.MatchString(b.Language):
		return fmt.Errorf("%w: language must be a valid ISO 639-1 code", ErrInvalidBook)
	case strings.TrimSpace(b.UploadedBy) == "":
		return fmt.Errorf("%w: uploaded by is required", ErrInvalidBook)
	case b.AverageRating < 0 || b.AverageRating > 5:
		return fmt.Errorf("%w: average rating must be between 0 and 5", ErrInvalidBook)
	case b.ReviewCount < 0 || b.DownloadCount < 0 || b.FileSize < 0:
		return fmt.Errorf("%w: counters cannot be negative", ErrInvalidBook)
	case b.Status != "" && !b.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidBook, b.Status)
	}
	for _, a := range b.Authors {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("%w: author name is required", ErrInvalidBook)
		}
	}
	return nil
}

// Clone devuelve una copia profunda; los snapshots de los eventos no deben
// compartir slices con la entidad que sigue mutando.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	c := *b
	c.Authors = append([]Author(nil), b.Authors...)
	c.Tags = append([]string(nil), b.Tags...)
	c.Categories = append([]string(nil), b.Categories...)
	return &c
}

// --- Métodos de dominio ---

func (b *Book) IncrementDownloadCount() {
	b.DownloadCount++
	b.touch()
}

func (b *Book) UpdateRating(rating float64, reviewCount int) {
	b.AverageRating = rating
	b.ReviewCount = reviewCount
	b.touch()
}

func (b *Book) ChangeStatus(status BookStatus) {
	b.Status = status
	b.touch()
}

// MarkDeleted es un borrado lógico: el libro queda en estado DELETED.
func (b *Book) MarkDeleted() {
	b.ChangeStatus(BookDeleted)
}

func (b *Book) IsPublished() bool {
	return b.Status == BookActive
}

func (b *Book) CanBeDownloaded() bool {
	return b.Status == BookActive && b.FilePath != ""
}

func (b *Book) touch() {
	b.UpdatedAt = time.Now().UTC()
}

// Verificación estática para asegurar que Book implementa la interfaz
var _ sharedBus.Keyer = (*Book)(nil)
