package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gourilakshmianusha/petshoptify/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const cartTTL = 90 * 24 * time.Hour

// OpenMongo connects and pings; the caller owns the returned client.
func OpenMongo(ctx context.Context, uri, database string) (*mongo.Database, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(50)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client.Database(database), nil
}

// prices are stored as Decimal128 so no float rounding happens in the store
type cartDocument struct {
	CartID    string         `bson:"cart_id"`
	Items     []itemDocument `bson:"items"`
	CreatedAt time.Time      `bson:"created_at"`
	UpdatedAt time.Time      `bson:"updated_at"`
}

type itemDocument struct {
	ItemID    string               `bson:"item_id"`
	Name      string               `bson:"name"`
	UnitPrice primitive.Decimal128 `bson:"unit_price"`
	Quantity  int                  `bson:"quantity"`
	ImageRef  string               `bson:"image_ref"`
	AddedAt   time.Time            `bson:"added_at"`
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("carts")}
}

func (m *MongoRepository) GetCart(ctx context.Context, cartID string) (*domain.Cart, error) {
	var doc cartDocument
	err := m.collection.FindOne(ctx, bson.M{"cart_id": cartID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return doc.toDomain()
}

func (m *MongoRepository) AddItem(ctx context.Context, cartID string, item domain.CartItem) error {
	if item.Quantity < 1 {
		return ErrInvalidQuantity
	}
	now := time.Now()

	// existing line: bump the quantity in place
	inc, err := m.collection.UpdateOne(ctx,
		bson.M{"cart_id": cartID, "items.item_id": item.ID},
		bson.M{
			"$inc": bson.M{"items.$.quantity": item.Quantity},
			"$set": bson.M{"updated_at": now},
		})
	if err != nil {
		return fmt.Errorf("failed to update existing item: %w", err)
	}
	if inc.MatchedCount > 0 {
		return nil
	}

	item.AddedAt = now
	doc, err := newItemDocument(item)
	if err != nil {
		return err
	}
	_, err = m.collection.UpdateOne(ctx,
		bson.M{"cart_id": cartID},
		bson.M{
			"$push":        bson.M{"items": doc},
			"$set":         bson.M{"updated_at": now},
			"$setOnInsert": bson.M{"created_at": now},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to add new item: %w", err)
	}
	return nil
}

func (m *MongoRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) error {
	if quantity < 1 {
		return ErrInvalidQuantity
	}
	result, err := m.collection.UpdateOne(ctx,
		bson.M{"cart_id": cartID, "items.item_id": itemID},
		bson.M{"$set": bson.M{
			"items.$.quantity": quantity,
			"updated_at":       time.Now(),
		}})
	if err != nil {
		return fmt.Errorf("failed to update item quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *MongoRepository) RemoveItem(ctx context.Context, cartID, itemID string) error {
	result, err := m.collection.UpdateOne(ctx,
		bson.M{"cart_id": cartID, "items.item_id": itemID},
		bson.M{
			"$pull": bson.M{"items": bson.M{"item_id": itemID}},
			"$set":  bson.M{"updated_at": time.Now()},
		})
	if err != nil {
		return fmt.Errorf("failed to remove item: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, cartID string) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"cart_id": cartID})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

// CreateIndexes makes cart_id unique and expires carts untouched for 90 days.
func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "cart_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(cartTTL.Seconds())),
		},
	}
	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func newItemDocument(item domain.CartItem) (itemDocument, error) {
	price, err := primitive.ParseDecimal128(item.UnitPrice.String())
	if err != nil {
		return itemDocument{}, fmt.Errorf("invalid unit price %s: %w", item.UnitPrice, err)
	}
	return itemDocument{
		ItemID:    item.ID,
		Name:      item.Name,
		UnitPrice: price,
		Quantity:  item.Quantity,
		ImageRef:  item.ImageRef,
		AddedAt:   item.AddedAt,
	}, nil
}

func (d cartDocument) toDomain() (*domain.Cart, error) {
	cart := &domain.Cart{
		ID:        d.CartID,
		Items:     make([]domain.CartItem, 0, len(d.Items)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, it := range d.Items {
		price, err := decimal.NewFromString(it.UnitPrice.String())
		if err != nil {
			return nil, fmt.Errorf("decode unit price of %s: %w", it.ItemID, err)
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:        it.ItemID,
			Name:      it.Name,
			UnitPrice: price,
			Quantity:  it.Quantity,
			ImageRef:  it.ImageRef,
			AddedAt:   it.AddedAt,
		})
	}
	return cart, nil
}
