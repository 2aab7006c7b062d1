package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// identityKey is the grouping key of a stats kind: (account_id, tank_id) for
// tank stats, account_id alone for achievements.
func identityKey(kind models.StatsKind) any {
	if kind == models.KindPlayerAchievements {
		return "$account_id"
	}

	return bson.D{{Key: "a", Value: "$account_id"}, {Key: "t", Value: "$tank_id"}}
}

// StatsDuplicates implements backend.CurationStore: an aggregation matches
// the window, sorts newest first, groups by identity key collecting the
// trailing ids, then unwinds them.
func (db *DB) StatsDuplicates(ctx context.Context, q backend.DuplicatesQuery, out chan<- string) error {
	field := tsField(q.Kind)
	match := windowFilter(field, q.Window)

	if q.TankID != 0 {
		match = append(match, bson.E{Key: "tank_id", Value: q.TankID})
	}

	if len(q.Regions) > 0 {
		match = append(match, regionsFilter(q.Regions))
	}

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "account_id", Value: 1},
			{Key: "tank_id", Value: 1},
			{Key: field, Value: 1},
		}}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: field, Value: -1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: identityKey(q.Kind)},
			{Key: "ids", Value: bson.D{{Key: "$push", Value: "$_id"}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "dups", Value: bson.D{{Key: "$slice", Value: bson.A{"$ids", 1, bson.D{{Key: "$size", Value: "$ids"}}}}}},
		}}},
		bson.D{{Key: "$unwind", Value: "$dups"}},
	}

	if q.Sample >= 1 {
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: int64(q.Sample)}})
	}

	cursor, err := db.statsColl(q.Kind, q.Archive).Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return wrapErr(err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var row struct {
			Dup string `bson:"dups"`
		}

		if err := cursor.Decode(&row); err != nil {
			return fmt.Errorf("decoding duplicate id: %w", err)
		}

		select {
		case out <- row.Dup:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return wrapErr(cursor.Err())
}

// StatsNewerExists implements backend.CurationStore.
func (db *DB) StatsNewerExists(ctx context.Context, kind models.StatsKind, archive bool, id string, window backend.Window) (bool, error) {
	coll := db.statsColl(kind, archive)
	field := tsField(kind)

	var doc bson.M
	if err := coll.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return false, wrapErr(err)
	}

	// Newer than the subject and still inside the window.
	lower := window.Start
	if ts := toInt64(doc[field]); ts > lower {
		lower = ts
	}

	match := windowFilter(field, backend.Window{Start: lower, End: window.End})
	match = append(match, bson.E{Key: "account_id", Value: toInt64(doc["account_id"])})

	if kind == models.KindTankStats {
		match = append(match, bson.E{Key: "tank_id", Value: toInt64(doc["tank_id"])})
	}

	n, err := coll.CountDocuments(ctx, match, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapErr(err)
	}

	return n > 0, nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	}

	return 0
}

// StatsDeleteBatch implements backend.CurationStore: one delete_many bounded
// by both the id batch and the window.
func (db *DB) StatsDeleteBatch(ctx context.Context, kind models.StatsKind, archive bool, ids []string, window backend.Window) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	match := windowFilter(tsField(kind), window)
	match = append(match, bson.E{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}})

	res, err := db.statsColl(kind, archive).DeleteMany(ctx, match)
	if err != nil {
		return 0, wrapErr(err)
	}

	return res.DeletedCount, nil
}

// ArchiveMissing implements backend.CurationStore.
func (db *DB) ArchiveMissing(ctx context.Context, kind models.StatsKind, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	raw, err := db.statsColl(kind, true).Distinct(ctx, "_id",
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}})
	if err != nil {
		return nil, wrapErr(err)
	}

	present := make(map[string]struct{}, len(raw))

	for _, v := range raw {
		if id, ok := v.(string); ok {
			present[id] = struct{}{}
		}
	}

	missing := make([]string, 0)

	for _, id := range ids {
		if _, ok := present[id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing, nil
}

// Snapshot implements backend.CurationStore: match the partition in the
// archive, sort newest first, keep the first row per identity key and $merge
// into the hot collection with whenMatched=keepExisting. $merge returns no
// result set, so the examined count comes from a second aggregation over the
// same prefix.
func (db *DB) Snapshot(ctx context.Context, kind models.StatsKind, part backend.Partition) (int64, error) {
	coll := db.statsColl(kind, true)
	field := tsField(kind)

	match := bson.D{{Key: "account_id", Value: bson.D{
		{Key: "$gte", Value: part.AccountLow},
		{Key: "$lt", Value: part.AccountHigh},
	}}}

	if part.TankID != 0 {
		match = append(match, bson.E{Key: "tank_id", Value: part.TankID})
	}

	prefix := mongo.Pipeline{
		bson.D{{Key: "$match", Value: match}},
		bson.D{{Key: "$sort", Value: bson.D{{Key: field, Value: -1}}}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: identityKey(kind)},
			{Key: "doc", Value: bson.D{{Key: "$first", Value: "$$ROOT"}}},
		}}},
		bson.D{{Key: "$replaceRoot", Value: bson.D{{Key: "newRoot", Value: "$doc"}}}},
	}

	target := collTankStats
	if kind == models.KindPlayerAchievements {
		target = collAchievements
	}

	merge := append(mongo.Pipeline{}, prefix...)
	merge = append(merge, bson.D{{Key: "$merge", Value: bson.D{
		{Key: "into", Value: target},
		{Key: "on", Value: "_id"},
		{Key: "whenMatched", Value: "keepExisting"},
		{Key: "whenNotMatched", Value: "insert"},
	}}})

	cursor, err := coll.Aggregate(ctx, merge, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return 0, wrapErr(err)
	}

	cursor.Close(ctx)

	count := append(mongo.Pipeline{}, prefix...)
	count = append(count, bson.D{{Key: "$count", Value: "n"}})

	cursor, err = coll.Aggregate(ctx, count, options.Aggregate().SetAllowDiskUse(true))
	if err != nil {
		return 0, wrapErr(err)
	}
	defer cursor.Close(ctx)

	var examined int64

	if cursor.Next(ctx) {
		var row struct {
			N int64 `bson:"n"`
		}

		if err := cursor.Decode(&row); err != nil {
			return 0, fmt.Errorf("decoding snapshot count: %w", err)
		}

		examined = row.N
	}

	return examined, wrapErr(cursor.Err())
}

// DeleteListAdd implements backend.CurationStore.
func (db *DB) DeleteListAdd(ctx context.Context, entries []models.StatsToDelete) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	writes := make([]mongo.WriteModel, 0, len(entries))

	for _, entry := range entries {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "type", Value: entry.Type}, {Key: "id", Value: entry.ID}}).
			SetUpdate(bson.D{{Key: "$setOnInsert", Value: entry}}).
			SetUpsert(true))
	}

	res, err := db.db.Collection(collStatsToDelete).BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, wrapErr(err)
	}

	return res.UpsertedCount, nil
}

// DeleteListGet implements backend.CurationStore. A sample is a uniform
// random pick via $sample, not the head of the find order.
func (db *DB) DeleteListGet(ctx context.Context, typ string, sample backend.Sample, out chan<- models.StatsToDelete) error {
	coll := db.db.Collection(collStatsToDelete)
	match := bson.D{{Key: "type", Value: typ}}

	var (
		cursor *mongo.Cursor
		err    error
	)

	if sample > 0 {
		total, countErr := coll.CountDocuments(ctx, match)
		if countErr != nil {
			return wrapErr(countErr)
		}

		pipeline := mongo.Pipeline{
			bson.D{{Key: "$match", Value: match}},
			bson.D{{Key: "$sample", Value: bson.D{{Key: "size", Value: sample.Size(total)}}}},
		}

		cursor, err = coll.Aggregate(ctx, pipeline, options.Aggregate().SetAllowDiskUse(true))
	} else {
		cursor, err = coll.Find(ctx, match)
	}

	if err != nil {
		return wrapErr(err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var entry models.StatsToDelete

		if err := cursor.Decode(&entry); err != nil {
			return fmt.Errorf("decoding stats-to-delete entry: %w", err)
		}

		select {
		case out <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return wrapErr(cursor.Err())
}

// DeleteListCount implements backend.CurationStore.
func (db *DB) DeleteListCount(ctx context.Context, typ string) (int64, error) {
	n, err := db.db.Collection(collStatsToDelete).CountDocuments(ctx, bson.D{{Key: "type", Value: typ}})

	return n, wrapErr(err)
}

// DeleteListRemove implements backend.CurationStore.
func (db *DB) DeleteListRemove(ctx context.Context, typ string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := db.db.Collection(collStatsToDelete).DeleteMany(ctx, bson.D{
		{Key: "type", Value: typ},
		{Key: "id", Value: bson.D{{Key: "$in", Value: ids}}},
	})
	if err != nil {
		return 0, wrapErr(err)
	}

	return res.DeletedCount, nil
}

// DeleteListReset implements backend.CurationStore.
func (db *DB) DeleteListReset(ctx context.Context, typ string) (int64, error) {
	res, err := db.db.Collection(collStatsToDelete).DeleteMany(ctx, bson.D{{Key: "type", Value: typ}})
	if err != nil {
		return 0, wrapErr(err)
	}

	return res.DeletedCount, nil
}
