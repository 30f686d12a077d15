package users

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/artisthub/platform/backend/admin-service/internal/database"
	"github.com/artisthub/platform/backend/admin-service/internal/models"
)

const userSequence = "users"

// MongoRepository implements Repository using MongoDB. Integer ids come from a
// counters collection.
type MongoRepository struct {
	col      *mongo.Collection
	counters *mongo.Collection
}

// NewMongoRepository creates the repository and its indexes.
func NewMongoRepository(ctx context.Context, db *mongo.Database) (*MongoRepository, error) {
	r := &MongoRepository{col: db.Collection("users"), counters: db.Collection("counters")}
	_, err := r.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "sub", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"sub": bson.M{"$type": "string"}}),
		},
		{Keys: bson.D{{Key: "role", Value: 1}}},
		{Keys: bson.D{{Key: "subscriptionPlan", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create user indexes: %w", err)
	}
	return r, nil
}

// buildFilter translates a Query into a Mongo filter. Missing fields match nil
// in Mongo, which gives the "no role counts as user" semantics for free.
func buildFilter(q Query) bson.M {
	var clauses []bson.M
	if q.Role != "" {
		if q.Role == models.RoleUser {
			clauses = append(clauses, bson.M{"role": bson.M{"$in": bson.A{string(models.RoleUser), nil}}})
		} else {
			clauses = append(clauses, bson.M{"role": string(q.Role)})
		}
	}
	switch q.Subscription {
	case "":
	case SubscriptionNone:
		clauses = append(clauses, bson.M{"subscriptionPlan": nil})
	case string(models.PlanFree):
		clauses = append(clauses, bson.M{"subscriptionPlan": bson.M{"$in": bson.A{string(models.PlanFree), nil}}})
	default:
		clauses = append(clauses, bson.M{"subscriptionPlan": q.Subscription})
	}
	if q.Search != "" {
		re := searchRegex(q.Search)
		clauses = append(clauses, bson.M{"$or": bson.A{
			bson.M{"email": re},
			bson.M{"firstName": re},
			bson.M{"lastName": re},
		}})
	}
	switch len(clauses) {
	case 0:
		return bson.M{}
	case 1:
		return clauses[0]
	}
	and := make(bson.A, 0, len(clauses))
	for _, c := range clauses {
		and = append(and, c)
	}
	return bson.M{"$and": and}
}

func searchRegex(s string) bson.M {
	return bson.M{"$regex": regexp.QuoteMeta(s), "$options": "i"}
}

func (r *MongoRepository) List(ctx context.Context, q Query) ([]*models.User, int64, error) {
	filter := buildFilter(q)
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetSkip(int64(q.Offset()))
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cur, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("find users: %w", err)
	}
	defer cur.Close(ctx)
	out := []*models.User{}
	for cur.Next(ctx) {
		var u models.User
		if err := cur.Decode(&u); err != nil {
			return nil, 0, fmt.Errorf("decode user: %w", err)
		}
		if u.Permissions == nil {
			u.Permissions = []models.Permission{}
		}
		out = append(out, &u)
	}
	return out, total, cur.Err()
}

func (r *MongoRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := r.col.FindOne(ctx, filter).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	if u.Permissions == nil {
		u.Permissions = []models.Permission{}
	}
	return &u, nil
}

func (r *MongoRepository) Get(ctx context.Context, id int64) (*models.User, error) {
	u, err := r.findOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

func (r *MongoRepository) GetBySub(ctx context.Context, sub string) (*models.User, error) {
	if sub == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"sub": sub})
}

func (r *MongoRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	email = models.NormalizeEmail(email)
	if email == "" {
		return nil, nil
	}
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoRepository) Create(ctx context.Context, u *models.User) (*models.User, error) {
	id, err := database.NextSequence(ctx, r.counters, userSequence)
	if err != nil {
		return nil, err
	}
	stored := u.Clone()
	stored.ID = id
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	if stored.Permissions == nil {
		stored.Permissions = []models.Permission{}
	}
	if _, err := r.col.InsertOne(ctx, stored); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return stored, nil
}

func (r *MongoRepository) apply(ctx context.Context, id int64, update bson.M) (*models.User, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var u models.User
	if err := r.col.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if u.Permissions == nil {
		u.Permissions = []models.Permission{}
	}
	return &u, nil
}

func (r *MongoRepository) SetRole(ctx context.Context, id int64, upd RoleUpdate) (*models.User, error) {
	now := time.Now().UTC()
	if upd.Role == nil {
		return r.apply(ctx, id, bson.M{
			"$set":   bson.M{"permissions": bson.A{}, "updatedAt": now},
			"$unset": bson.M{"role": "", "roleGrantedAt": "", "roleGrantedBy": ""},
		})
	}
	perms := upd.Permissions
	if perms == nil {
		perms = []models.Permission{}
	}
	set := bson.M{"role": *upd.Role, "permissions": perms, "updatedAt": now}
	unset := bson.M{}
	if upd.GrantedAt != nil {
		set["roleGrantedAt"] = *upd.GrantedAt
	} else {
		unset["roleGrantedAt"] = ""
	}
	if upd.GrantedBy != nil {
		set["roleGrantedBy"] = *upd.GrantedBy
	} else {
		unset["roleGrantedBy"] = ""
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return r.apply(ctx, id, update)
}

func (r *MongoRepository) UpdateSubscription(ctx context.Context, id int64, upd SubscriptionUpdate) (*models.User, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Plan != nil {
		set["subscriptionPlan"] = *upd.Plan
	}
	if upd.Status != nil {
		set["subscriptionStatus"] = *upd.Status
	}
	if upd.End != nil {
		set["subscriptionEnd"] = *upd.End
	}
	return r.apply(ctx, id, bson.M{"$set": set})
}

func (r *MongoRepository) LinkSub(ctx context.Context, id int64, sub string) (*models.User, error) {
	return r.apply(ctx, id, bson.M{"$set": bson.M{"sub": sub, "updatedAt": time.Now().UTC()}})
}

func (r *MongoRepository) Delete(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	if err := r.col.FindOneAndDelete(ctx, bson.M{"_id": id}).Decode(&u); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (r *MongoRepository) CountByRole(ctx context.Context) (RoleCounts, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$role"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cur, err := r.col.Aggregate(ctx, pipeline)
	if err != nil {
		return RoleCounts{}, fmt.Errorf("aggregate roles: %w", err)
	}
	defer cur.Close(ctx)
	rc := RoleCounts{ByRole: map[models.Role]int64{}}
	for cur.Next(ctx) {
		var row struct {
			Role  *string `bson:"_id"`
			Count int64   `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return RoleCounts{}, err
		}
		rc.Total += row.Count
		if row.Role == nil || *row.Role == "" {
			rc.WithoutRole += row.Count
			continue
		}
		rc.ByRole[models.Role(*row.Role)] += row.Count
	}
	return rc, cur.Err()
}
