package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taikoweb/songindex/internal/scan"
)

// MongoStores implements the repositories against a mongo database.
type MongoStores struct {
	db *mongo.Database
}

// NewMongoStores wraps a connected database.
func NewMongoStores(db *mongo.Database) *MongoStores {
	return &MongoStores{db: db}
}

// Stores exposes the mongo backend through the repository interfaces.
func (m *MongoStores) Stores() Stores {
	return Stores{
		Catalog:    &mongoCatalog{col: m.db.Collection(CollectionSongs)},
		State:      &mongoState{col: m.db.Collection(CollectionState)},
		Issues:     &mongoIssues{col: m.db.Collection(CollectionIssues)},
		Seq:        &mongoSeq{col: m.db.Collection(CollectionSeq)},
		Categories: &mongoCategories{col: m.db.Collection(CollectionCategories)},
	}
}

// ignoreIndexConflict swallows the errors mongo reports when an equivalent
// or conflicting index already exists; index bootstrap must tolerate both.
func ignoreIndexConflict(err error) error {
	if err == nil {
		return nil
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		// 85 IndexOptionsConflict, 86 IndexKeySpecsConflict.
		if cmdErr.Code == 85 || cmdErr.Code == 86 {
			return nil
		}
	}
	return err
}

type mongoCatalog struct {
	col *mongo.Collection
}

func (c *mongoCatalog) EnsureIndexes(ctx context.Context) error {
	_, err := c.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "group_key", Value: 1}},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "group_key", Value: bson.D{{Key: "$type", Value: "string"}}}}),
	})
	return ignoreIndexConflict(err)
}

func (c *mongoCatalog) CleanupInvalidKeys(ctx context.Context) ([]string, error) {
	filter := bson.M{
		"managed_by_scanner": true,
		"group_key":          bson.M{"$exists": true, "$not": bson.M{"$type": "string"}},
	}
	cursor, err := c.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1, "paths.tja_url": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var labels []string
	for cursor.Next(ctx) {
		var row struct {
			ID    interface{} `bson:"_id"`
			Paths struct {
				TJAURL string `bson:"tja_url"`
			} `bson:"paths"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		label := row.Paths.TJAURL
		if label == "" {
			label = fmt.Sprintf("%v", row.ID)
		}
		labels = append(labels, label)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, nil
	}
	if _, err := c.col.DeleteMany(ctx, filter); err != nil {
		return labels, err
	}
	return labels, nil
}

// baseFields flattens a catalog document into the update payload, dropping
// the fields the refresh and insert paths must never touch.
func baseFields(doc *scan.CatalogDoc) (bson.M, error) {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	delete(m, "_id")
	delete(m, "id")
	delete(m, "order")
	delete(m, "charts")
	return m, nil
}

func (c *mongoCatalog) UpsertOnGroupKey(ctx context.Context, key string, base *scan.CatalogDoc) (CatalogMeta, UpsertOutcome, error) {
	insert, err := baseFields(base)
	if err != nil {
		return CatalogMeta{}, OutcomeConflict, err
	}
	insert["group_key"] = key
	// The charts array must exist before positional array updates can run.
	insert["charts"] = bson.A{}

	res := c.col.FindOneAndUpdate(ctx,
		bson.M{"group_key": key},
		bson.M{"$setOnInsert": insert},
		options.FindOneAndUpdate().
			SetUpsert(true).
			SetReturnDocument(options.After).
			SetProjection(bson.M{"id": 1}))

	var row struct {
		ID int64 `bson:"id"`
	}
	if err := res.Decode(&row); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return CatalogMeta{}, OutcomeConflict, nil
		}
		return CatalogMeta{}, OutcomeConflict, err
	}
	if row.ID == 0 {
		return CatalogMeta{}, OutcomeInserted, nil
	}
	return CatalogMeta{ID: row.ID, HasID: true}, OutcomeExisting, nil
}

func (c *mongoCatalog) AssignID(ctx context.Context, key string, id int64) error {
	_, err := c.col.UpdateOne(ctx,
		bson.M{
			"group_key": key,
			"$or": []bson.M{
				{"id": bson.M{"$exists": false}},
				{"id": nil},
				{"id": 0},
			},
		},
		bson.M{"$set": bson.M{"id": id, "order": id}})
	return err
}

func (c *mongoCatalog) Refresh(ctx context.Context, key string, doc *scan.CatalogDoc) (bool, error) {
	set, err := baseFields(doc)
	if err != nil {
		return false, err
	}
	res, err := c.col.UpdateOne(ctx, bson.M{"group_key": key}, bson.M{"$set": set})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

func (c *mongoCatalog) SyncCharts(ctx context.Context, key string, charts []scan.ChartDoc) (int, error) {
	filter := bson.M{"group_key": key}
	now := time.Now().UnixMilli()

	canonical := make([]string, 0, len(charts))
	unknownRaw := make([]string, 0)
	for i := range charts {
		chart := charts[i]
		chart.UpdatedAt = now
		canonical = append(canonical, chart.Course)
		if chart.Course == unknownCourse {
			unknownRaw = append(unknownRaw, chart.RawCourse)
		}

		arrayFilter := bson.M{"c.course": chart.Course}
		if chart.Course == unknownCourse {
			arrayFilter["c.raw_course"] = chart.RawCourse
		}
		_, err := c.col.UpdateOne(ctx, filter,
			bson.M{"$set": bson.M{"charts.$[c]": chart}},
			options.Update().SetArrayFilters(options.ArrayFilters{Filters: []interface{}{arrayFilter}}))
		if err != nil {
			return i, err
		}
		if _, err := c.col.UpdateOne(ctx, filter, bson.M{"$addToSet": bson.M{"charts": chart}}); err != nil {
			return i, err
		}
	}

	if _, err := c.col.UpdateOne(ctx, filter,
		bson.M{"$pull": bson.M{"charts": bson.M{"course": bson.M{"$nin": canonical}}}}); err != nil {
		return len(charts), err
	}
	if _, err := c.col.UpdateOne(ctx, filter,
		bson.M{"$pull": bson.M{"charts": bson.M{
			"course":     unknownCourse,
			"raw_course": bson.M{"$nin": unknownRaw},
		}}}); err != nil {
		return len(charts), err
	}
	return len(charts), nil
}

func (c *mongoCatalog) MaxID(ctx context.Context) (int64, error) {
	var row struct {
		ID int64 `bson:"id"`
	}
	err := c.col.FindOne(ctx,
		bson.M{"id": bson.M{"$gt": 0}},
		options.FindOne().
			SetSort(bson.D{{Key: "id", Value: -1}}).
			SetProjection(bson.M{"id": 1})).
		Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.ID, nil
}

func (c *mongoCatalog) ManagedSongs(ctx context.Context) (map[int64]bool, error) {
	cursor, err := c.col.Find(ctx,
		bson.M{"managed_by_scanner": true},
		options.Find().SetProjection(bson.M{"id": 1, "enabled": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make(map[int64]bool)
	for cursor.Next(ctx) {
		var row struct {
			ID      int64 `bson:"id"`
			Enabled bool  `bson:"enabled"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		if row.ID != 0 {
			out[row.ID] = row.Enabled
		}
	}
	return out, cursor.Err()
}

func (c *mongoCatalog) MarkDisabled(ctx context.Context, id int64) (bool, error) {
	res, err := c.col.UpdateOne(ctx,
		bson.M{"id": id, "enabled": true},
		bson.M{"$set": bson.M{"enabled": false}})
	if err != nil {
		return false, err
	}
	return res.ModifiedCount > 0, nil
}

type mongoState struct {
	col *mongo.Collection
}

func (s *mongoState) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tja_path", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return ignoreIndexConflict(err)
}

func (s *mongoState) All(ctx context.Context) (map[string]*StateRow, error) {
	cursor, err := s.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	out := make(map[string]*StateRow)
	for cursor.Next(ctx) {
		var row StateRow
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		if row.TJAPath != "" {
			out[row.TJAPath] = &row
		}
	}
	return out, cursor.Err()
}

func (s *mongoState) Put(ctx context.Context, row *StateRow) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"tja_path": row.TJAPath},
		bson.M{"$set": row},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		// Lost an upsert race on the unique index; the winner holds the row
		// and a plain update settles it.
		_, err = s.col.UpdateOne(ctx, bson.M{"tja_path": row.TJAPath}, bson.M{"$set": row})
	}
	return err
}

func (s *mongoState) DeleteMissing(ctx context.Context, seen map[string]struct{}) (int, error) {
	cursor, err := s.col.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"tja_path": 1}))
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var stale []string
	for cursor.Next(ctx) {
		var row struct {
			TJAPath string `bson:"tja_path"`
		}
		if err := cursor.Decode(&row); err != nil {
			continue
		}
		if _, ok := seen[row.TJAPath]; !ok && row.TJAPath != "" {
			stale = append(stale, row.TJAPath)
		}
	}
	if err := cursor.Err(); err != nil {
		return 0, err
	}
	if len(stale) == 0 {
		return 0, nil
	}
	res, err := s.col.DeleteMany(ctx, bson.M{"tja_path": bson.M{"$in": stale}})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

type mongoIssues struct {
	col *mongo.Collection
}

func (i *mongoIssues) EnsureIndexes(ctx context.Context) error {
	_, err := i.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "reason", Value: 1},
			{Key: "path", Value: 1},
			{Key: "course_raw", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	})
	return ignoreIndexConflict(err)
}

func (i *mongoIssues) Record(ctx context.Context, reason, path, courseRaw string) error {
	_, err := i.col.UpdateOne(ctx,
		bson.M{"reason": reason, "path": path, "course_raw": courseRaw},
		bson.M{"$setOnInsert": bson.M{"first_seen": time.Now().UnixMilli()}},
		options.Update().SetUpsert(true))
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

type mongoSeq struct {
	col *mongo.Collection
}

func (s *mongoSeq) Current(ctx context.Context) (int64, error) {
	var row struct {
		Value int64 `bson:"value"`
	}
	err := s.col.FindOne(ctx, bson.M{"name": "songs"}).Decode(&row)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.Value, nil
}

func (s *mongoSeq) Set(ctx context.Context, value int64) error {
	_, err := s.col.UpdateOne(ctx,
		bson.M{"name": "songs"},
		bson.M{"$set": bson.M{"value": value}},
		options.Update().SetUpsert(true))
	return err
}

type mongoCategories struct {
	col *mongo.Collection
}

func (c *mongoCategories) Upsert(ctx context.Context, id int, title string) error {
	_, err := c.col.UpdateOne(ctx,
		bson.M{"id": id},
		bson.M{
			"$set":         bson.M{"title": title},
			"$setOnInsert": bson.M{"song_skin": nil},
		},
		options.Update().SetUpsert(true))
	return err
}
