package backend

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo is the production Backend.
type Mongo struct {
	db *mongo.Database
}

func NewMongo(db *mongo.Database) *Mongo {
	return &Mongo{db: db}
}

// EnsureIndexes creates the indexes the service queries rely on.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	indexes := map[string][]mongo.IndexModel{
		Issues: {
			{Keys: bson.D{{Key: "status", Value: 1}}},
			{Keys: bson.D{{Key: "reportedBy", Value: 1}, {Key: "createdAt", Value: -1}}},
			{Keys: bson.D{{Key: "localRef", Value: 1}}, Options: options.Index().SetSparse(true)},
		},
		Users: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		Notifications: {
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}},
		},
	}

	for name, models := range indexes {
		if _, err := m.db.Collection(name).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", name, err)
		}
	}
	return nil
}

func (m *Mongo) Create(ctx context.Context, collection string, doc any) (string, error) {
	result, err := m.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", unavailable("insert", err)
	}

	switch id := result.InsertedID.(type) {
	case primitive.ObjectID:
		return id.Hex(), nil
	case string:
		return id, nil
	default:
		return fmt.Sprint(id), nil
	}
}

func (m *Mongo) Get(ctx context.Context, collection, id string) (bson.Raw, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	raw, err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": oid}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, unavailable("find", err)
	}
	return raw, nil
}

func (m *Mongo) Update(ctx context.Context, collection, id string, set Fields) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return ErrNotFound
	}

	result, err := m.db.Collection(collection).UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M(set)})
	if err != nil {
		return unavailable("update", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) Apply(ctx context.Context, collection, id string, guard Filter, mut Mutation) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return false, nil
	}

	filter := toBSON(guard)
	filter["_id"] = oid

	update := bson.M{}
	if len(mut.Set) > 0 {
		update["$set"] = bson.M(mut.Set)
	}
	if len(mut.Inc) > 0 {
		inc := bson.M{}
		for field, delta := range mut.Inc {
			inc[field] = delta
		}
		update["$inc"] = inc
	}
	if len(mut.AddToSet) > 0 {
		update["$addToSet"] = bson.M(mut.AddToSet)
	}
	if len(update) == 0 {
		return false, errors.New("empty mutation")
	}

	result, err := m.db.Collection(collection).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, unavailable("update", err)
	}
	return result.MatchedCount > 0, nil
}

func (m *Mongo) Count(ctx context.Context, collection string, f Filter) (int64, error) {
	count, err := m.db.Collection(collection).CountDocuments(ctx, toBSON(f))
	if err != nil {
		return 0, unavailable("count", err)
	}
	return count, nil
}

func (m *Mongo) Query(ctx context.Context, collection string, f Filter) ([]bson.Raw, error) {
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	cursor, err := m.db.Collection(collection).Find(ctx, toBSON(f), findOptions)
	if err != nil {
		return nil, unavailable("find", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.Raw
	for cursor.Next(ctx) {
		docs = append(docs, append(bson.Raw(nil), cursor.Current...))
	}
	if err := cursor.Err(); err != nil {
		return nil, unavailable("cursor", err)
	}
	return docs, nil
}

func toBSON(f Filter) bson.M {
	filter := bson.M{}
	for _, c := range f {
		ops, ok := filter[c.Field].(bson.M)
		if !ok {
			ops = bson.M{}
			filter[c.Field] = ops
		}
		ops[string(c.Op)] = c.Value
	}
	return filter
}
