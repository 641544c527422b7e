package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository stores one document per user in the "carts" collection.
type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	var cart domain.Cart

	filter := bson.M{"user_id": userID}
	err := m.collection.FindOne(ctx, filter).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	normalize(&cart)

	return &cart, nil
}

func (m *MongoRepository) ReplaceLines(ctx context.Context, userID string, lines []domain.CartLine) (*domain.Cart, error) {
	now := time.Now().UTC()
	if lines == nil {
		lines = []domain.CartLine{}
	}

	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set":         bson.M{"lines": lines, "updated_at": now},
		"$inc":         bson.M{"version": 1},
		"$setOnInsert": bson.M{"created_at": now},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var cart domain.Cart
	if err := m.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&cart); err != nil {
		return nil, fmt.Errorf("failed to replace cart lines: %w", err)
	}
	normalize(&cart)

	return &cart, nil
}

func (m *MongoRepository) SaveIfVersion(ctx context.Context, cart *domain.Cart) error {
	lines := cart.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}

	filter := bson.M{"user_id": cart.UserID, "version": cart.Version}
	update := bson.M{
		"$set": bson.M{"lines": lines, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartVersionConflict
	}
	return nil
}

func (m *MongoRepository) RemoveLine(ctx context.Context, userID, lineID string) error {
	filter := bson.M{"user_id": userID, "lines.line_id": lineID}
	update := bson.M{
		"$pull": bson.M{
			"lines": bson.M{"line_id": lineID},
		},
		"$set": bson.M{"updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}

	// A missing cart or line matches nothing, which is success
	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to remove line: %w", err)
	}
	return nil
}

func (m *MongoRepository) ClearCart(ctx context.Context, userID string) error {
	filter := bson.M{"user_id": userID}
	update := bson.M{
		"$set": bson.M{"lines": []domain.CartLine{}, "updated_at": time.Now().UTC()},
		"$inc": bson.M{"version": 1},
	}

	if _, err := m.collection.UpdateOne(ctx, filter, update); err != nil {
		return fmt.Errorf("failed to clear cart: %w", err)
	}
	return nil
}

// CreateIndexes enforces one cart per user. Carts do not expire.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func normalize(cart *domain.Cart) {
	if cart.Lines == nil {
		cart.Lines = []domain.CartLine{}
	}
}
