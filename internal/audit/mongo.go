package audit

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepository persists entries in an append-only collection.
type MongoRepository struct {
	col *mongo.Collection
}

func NewMongoRepository(ctx context.Context, col *mongo.Collection) (*MongoRepository, error) {
	idx := mongo.IndexModel{Keys: bson.D{{Key: "targetUserId", Value: 1}, {Key: "at", Value: -1}}}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("audit index: %w", err)
	}
	return &MongoRepository{col: col}, nil
}

func (r *MongoRepository) Append(ctx context.Context, e *Entry) error {
	_, err := r.col.InsertOne(ctx, e)
	return err
}

func (r *MongoRepository) List(ctx context.Context, f Filter) ([]*Entry, error) {
	filter := bson.M{}
	if f.TargetUserID != 0 {
		filter["targetUserId"] = f.TargetUserID
	}
	if !f.Since.IsZero() {
		filter["at"] = bson.M{"$gte": f.Since}
	}
	opts := options.Find().SetSort(bson.D{{Key: "at", Value: -1}}).SetLimit(int64(f.Limit))
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*Entry{}
	for cur.Next(ctx) {
		var e Entry
		if err := cur.Decode(&e); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, cur.Err()
}
