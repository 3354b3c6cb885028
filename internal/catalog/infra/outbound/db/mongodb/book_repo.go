package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
	sharedDomain "github.com/davicafu/catalogcdc/internal/shared/domain"
	"github.com/davicafu/catalogcdc/internal/shared/infra/platform/query"
)

// BookRepoMongoDB implementa BookRepository y TxRunner sobre MongoDB.
type BookRepoMongoDB struct {
	client    *mongo.Client
	booksColl *mongo.Collection
}

func NewBookRepoMongoDB(ctx context.Context, client *mongo.Client, dbName string) (*BookRepoMongoDB, error) {
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("could not ping mongoDB: %w", err)
	}
	return &BookRepoMongoDB{
		client:    client,
		booksColl: client.Database(dbName).Collection("books"),
	}, nil
}

// --- Structs de BSON para el mapeo ---

type mongoAuthor struct {
	ID          string     `bson:"id,omitempty"`
	Name        string     `bson:"name"`
	Biography   string     `bson:"biography,omitempty"`
	Nationality string     `bson:"nationality,omitempty"`
	BirthDate   *time.Time `bson:"birthDate,omitempty"`
	DeathDate   *time.Time `bson:"deathDate,omitempty"`
}

type mongoBook struct {
	ID              string            `bson:"_id"`
	Title           string            `bson:"title"`
	Description     string            `bson:"description,omitempty"`
	Authors         []mongoAuthor     `bson:"authors"`
	Tags            []string          `bson:"tags,omitempty"`
	Categories      []string          `bson:"categories,omitempty"`
	Language        string            `bson:"language"`
	PublicationDate *time.Time        `bson:"publicationDate,omitempty"`
	UploadedBy      string            `bson:"uploadedBy"`
	CoverURL        string            `bson:"coverUrl,omitempty"`
	AverageRating   float64           `bson:"averageRating"`
	ReviewCount     int               `bson:"reviewCount"`
	DownloadCount   int               `bson:"downloadCount"`
	FilePath        string            `bson:"filePath,omitempty"`
	FileSize        int64             `bson:"fileSize,omitempty"`
	ISBN            string            `bson:"isbn,omitempty"`
	Publisher       string            `bson:"publisher,omitempty"`
	PageCount       int               `bson:"pageCount,omitempty"`
	Status          domain.BookStatus `bson:"status"`
	CreatedAt       time.Time         `bson:"createdAt"`
	UpdatedAt       time.Time         `bson:"updatedAt"`
	Version         int64             `bson:"version"`
}

// EnsureIndexes crea el índice de ISBN (disperso: no todos los libros lo
// tienen) y los de los filtros de búsqueda más usados.
func (r *BookRepoMongoDB) EnsureIndexes(ctx context.Context) error {
	_, err := r.booksColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "isbn", Value: 1}}, Options: options.Index().SetSparse(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "categories", Value: 1}}},
		{Keys: bson.D{{Key: "language", Value: 1}}},
		{Keys: bson.D{{Key: "uploadedBy", Value: 1}}},
	})
	return err
}

// WithinTx abre una sesión y ejecuta fn en una transacción. Las escrituras
// hechas con el ctx de fn (libro y outbox) se confirman o se deshacen juntas.
func (r *BookRepoMongoDB) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	session, err := r.client.StartSession()
	if err != nil {
		return err
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sessCtx mongo.SessionContext) (interface{}, error) {
		return nil, fn(sessCtx)
	})
	return err
}

func (r *BookRepoMongoDB) Create(ctx context.Context, b *domain.Book) error {
	if _, err := r.booksColl.InsertOne(ctx, toMongoBook(b)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrBookAlreadyExists
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (r *BookRepoMongoDB) Update(ctx context.Context, b *domain.Book) error {
	res, err := r.booksColl.ReplaceOne(ctx, bson.M{"_id": b.ID}, toMongoBook(b))
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrBookNotFound
	}
	return nil
}

func (r *BookRepoMongoDB) GetByID(ctx context.Context, id string) (*domain.Book, error) {
	var mb mongoBook
	err := r.booksColl.FindOne(ctx, bson.M{"_id": id}).Decode(&mb)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrBookNotFound
		}
		return nil, err
	}
	return fromMongoBook(&mb), nil
}

// ExistsByISBN ignora los borrados lógicos y el propio libro (excludeID).
func (r *BookRepoMongoDB) ExistsByISBN(ctx context.Context, isbn, excludeID string) (bool, error) {
	filter := bson.M{
		"isbn":   isbn,
		"status": bson.M{"$ne": domain.BookDeleted},
	}
	if excludeID != "" {
		filter["_id"] = bson.M{"$ne": excludeID}
	}
	n, err := r.booksColl.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *BookRepoMongoDB) Exists(ctx context.Context, id string) (bool, error) {
	n, err := r.booksColl.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List aplica los criterios, ordena y pagina. El _id desempata el orden.
func (r *BookRepoMongoDB) List(ctx context.Context, c sharedDomain.Criteria, page query.OffsetPagination, sort query.Sort) ([]*domain.Book, error) {
	opts := options.Find().SetSkip(int64(page.Offset))
	if page.Limit > 0 {
		opts.SetLimit(int64(page.Limit))
	}

	sortDoc := bson.D{}
	if sort.Field != "" {
		sortDir := 1
		if sort.Desc {
			sortDir = -1
		}
		sortDoc = append(sortDoc, bson.E{Key: mongoField(sort.Field), Value: sortDir})
	}
	opts.SetSort(append(sortDoc, bson.E{Key: "_id", Value: 1}))

	cursor, err := r.booksColl.Find(ctx, criteriaToMongoFilter(c), opts)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer cursor.Close(ctx)

	books := []*domain.Book{}
	for cursor.Next(ctx) {
		var mb mongoBook
		if err := cursor.Decode(&mb); err != nil {
			return nil, err
		}
		books = append(books, fromMongoBook(&mb))
	}
	return books, cursor.Err()
}

func (r *BookRepoMongoDB) Count(ctx context.Context, c sharedDomain.Criteria) (int64, error) {
	n, err := r.booksColl.CountDocuments(ctx, criteriaToMongoFilter(c))
	if err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return n, nil
}

// Ping hace una consulta de conteo acotada, como el health check del servicio.
func (r *BookRepoMongoDB) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx, readpref.Primary()); err != nil {
		return err
	}
	_, err := r.booksColl.EstimatedDocumentCount(ctx)
	return err
}

// --- Helpers de Mapeo y Conversión ---

func toMongoBook(b *domain.Book) *mongoBook {
	authors := make([]mongoAuthor, 0, len(b.Authors))
	for _, a := range b.Authors {
		authors = append(authors, mongoAuthor(a))
	}
	return &mongoBook{
		ID: b.ID, Title: b.Title, Description: b.Description, Authors: authors,
		Tags: b.Tags, Categories: b.Categories, Language: b.Language,
		PublicationDate: b.PublicationDate, UploadedBy: b.UploadedBy, CoverURL: b.CoverURL,
		AverageRating: b.AverageRating, ReviewCount: b.ReviewCount, DownloadCount: b.DownloadCount,
		FilePath: b.FilePath, FileSize: b.FileSize, ISBN: b.ISBN, Publisher: b.Publisher,
		PageCount: b.PageCount, Status: b.Status, CreatedAt: b.CreatedAt, UpdatedAt: b.UpdatedAt,
		Version: b.Version,
	}
}

func fromMongoBook(mb *mongoBook) *domain.Book {
	authors := make([]domain.Author, 0, len(mb.Authors))
	for _, a := range mb.Authors {
		authors = append(authors, domain.Author(a))
	}
	return &domain.Book{
		ID: mb.ID, Title: mb.Title, Description: mb.Description, Authors: authors,
		Tags: mb.Tags, Categories: mb.Categories, Language: mb.Language,
		PublicationDate: mb.PublicationDate, UploadedBy: mb.UploadedBy, CoverURL: mb.CoverURL,
		AverageRating: mb.AverageRating, ReviewCount: mb.ReviewCount, DownloadCount: mb.DownloadCount,
		FilePath: mb.FilePath, FileSize: mb.FileSize, ISBN: mb.ISBN, Publisher: mb.Publisher,
		PageCount: mb.PageCount, Status: mb.Status, CreatedAt: mb.CreatedAt, UpdatedAt: mb.UpdatedAt,
		Version: mb.Version,
	}
}

// criteriaToMongoFilter traduce las condiciones neutrales a un filtro $and.
func criteriaToMongoFilter(criteria sharedDomain.Criteria) bson.D {
	if criteria == nil {
		return bson.D{}
	}
	conds := criteria.ToConditions()
	if len(conds) == 0 {
		return bson.D{}
	}
	return bson.D{{Key: "$and", Value: conditionsToMongo(conds)}}
}

func conditionsToMongo(conds []sharedDomain.Criterion) bson.A {
	out := bson.A{}
	for _, c := range conds {
		if len(c.Any) > 0 {
			groups := bson.A{}
			for _, g := range c.Any {
				groups = append(groups, bson.D{{Key: "$and", Value: conditionsToMongo(g)}})
			}
			out = append(out, bson.D{{Key: "$or", Value: groups}})
			continue
		}

		// Mapeo de operadores genéricos a operadores de MongoDB
		var mongoOp string
		switch c.Op {
		case sharedDomain.OpNe:
			mongoOp = "$ne"
		case sharedDomain.OpGt:
			mongoOp = "$gt"
		case sharedDomain.OpGte:
			mongoOp = "$gte"
		case sharedDomain.OpLt:
			mongoOp = "$lt"
		case sharedDomain.OpLte:
			mongoOp = "$lte"
		case sharedDomain.OpIn:
			mongoOp = "$in"
		case sharedDomain.OpILike:
			mongoOp = "$regex"
		default:
			mongoOp = "$eq"
		}

		field := mongoField(c.Field)
		if c.Op == sharedDomain.OpILike {
			text, _ := c.Value.(string)
			out = append(out, bson.D{{Key: field, Value: bson.M{mongoOp: regexp.QuoteMeta(text), "$options": "i"}}})
			continue
		}
		out = append(out, bson.D{{Key: field, Value: bson.M{mongoOp: c.Value}}})
	}
	return out
}

func mongoField(field string) string {
	if field == domain.FieldID {
		return "_id"
	}
	return field
}

// Verificación en tiempo de compilación.
var (
	_ domain.BookRepository = (*BookRepoMongoDB)(nil)
	_ domain.TxRunner       = (*BookRepoMongoDB)(nil)
)
