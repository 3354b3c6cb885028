package mongodb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/davicafu/catalogcdc/internal/catalog/domain"
)

func TestCriteriaToMongoFilter_Empty(t *testing.T) {
	assert.Equal(t, bson.D{}, criteriaToMongoFilter(nil))
	assert.Equal(t, bson.D{}, criteriaToMongoFilter(domain.BookSearch{IncludeDeleted: true}.Criteria()))
}

func TestCriteriaToMongoFilter_Search(t *testing.T) {
	search := domain.BookSearch{Filters: domain.BookFilter{
		SearchText: "go.lang",
		Categories: []string{"tech", "science"},
	}}

	got := criteriaToMongoFilter(search.Criteria())

	want := bson.D{{Key: "$and", Value: bson.A{
		bson.D{{Key: "status", Value: bson.M{"$ne": "DELETED"}}},
		bson.D{{Key: "$or", Value: bson.A{
			bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "title", Value: bson.M{"$regex": `go\.lang`, "$options": "i"}}}}}},
			bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "description", Value: bson.M{"$regex": `go\.lang`, "$options": "i"}}}}}},
			bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "authors.name", Value: bson.M{"$regex": `go\.lang`, "$options": "i"}}}}}},
		}}},
		bson.D{{Key: "categories", Value: bson.M{"$in": []string{"tech", "science"}}}},
	}}}
	assert.Equal(t, want, got)
}

func TestCriteriaToMongoFilter_IDMapsToObjectKey(t *testing.T) {
	got := criteriaToMongoFilter(domain.EqualCriteria{Field: domain.FieldID, Value: "b-1"})
	assert.Equal(t, bson.D{{Key: "$and", Value: bson.A{bson.D{{Key: "_id", Value: bson.M{"$eq": "b-1"}}}}}}, got)
}
