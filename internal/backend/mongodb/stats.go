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

// statsMatch translates a StatsFilter into a find filter for the kind's
// timestamp field.
func statsMatch(kind models.StatsKind, flt backend.StatsFilter) bson.D {
	match := bson.D{}

	if flt.Release != "" {
		match = append(match, bson.E{Key: "release", Value: flt.Release})
	}

	if len(flt.Regions) > 0 {
		match = append(match, regionsFilter(flt.Regions))
	}

	if len(flt.Accounts) > 0 {
		match = append(match, bson.E{Key: "account_id", Value: bson.D{{Key: "$in", Value: flt.Accounts}}})
	}

	if len(flt.Tanks) > 0 && kind == models.KindTankStats {
		match = append(match, bson.E{Key: "tank_id", Value: bson.D{{Key: "$in", Value: flt.Tanks}}})
	}

	if flt.Since > 0 {
		match = append(match, bson.E{Key: tsField(kind), Value: bson.D{{Key: "$gte", Value: flt.Since}}})
	}

	return match
}

func (db *DB) statsFind(ctx context.Context, kind models.StatsKind, flt backend.StatsFilter) (*mongo.Cursor, error) {
	coll := db.statsColl(kind, false)
	match := statsMatch(kind, flt)

	opts := options.Find()

	if flt.Sample > 0 {
		total, err := coll.CountDocuments(ctx, match)
		if err != nil {
			return nil, wrapErr(err)
		}

		opts.SetLimit(flt.Sample.Size(total))
	}

	cursor, err := coll.Find(ctx, match, opts)

	return cursor, wrapErr(err)
}

func (db *DB) statsInsert(ctx context.Context, kind models.StatsKind, docs []any, force bool) (int64, int64, error) {
	if len(docs) == 0 {
		return 0, 0, nil
	}

	coll := db.statsColl(kind, false)

	if !force {
		_, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))

		return insertedCount(len(docs), err)
	}

	writes := make([]mongo.WriteModel, 0, len(docs))

	for _, doc := range docs {
		raw, err := bson.Marshal(doc)
		if err != nil {
			return 0, 0, fmt.Errorf("marshaling stat row: %w", err)
		}

		var m bson.M
		if err := bson.Unmarshal(raw, &m); err != nil {
			return 0, 0, fmt.Errorf("unmarshaling stat row: %w", err)
		}

		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.D{{Key: "_id", Value: m["_id"]}}).
			SetReplacement(doc).
			SetUpsert(true))
	}

	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return 0, 0, wrapErr(err)
	}

	return res.UpsertedCount + res.ModifiedCount, 0, nil
}

// TankStatsCount implements backend.TankStatStore.
func (db *DB) TankStatsCount(ctx context.Context, flt backend.StatsFilter) (int64, error) {
	n, err := db.statsColl(models.KindTankStats, false).CountDocuments(ctx, statsMatch(models.KindTankStats, flt))

	return n, wrapErr(err)
}

// TankStatsGet implements backend.TankStatStore.
func (db *DB) TankStatsGet(ctx context.Context, flt backend.StatsFilter, out chan<- models.TankStat) error {
	cursor, err := db.statsFind(ctx, models.KindTankStats, flt)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var ts models.TankStat

		if err := cursor.Decode(&ts); err != nil {
			return fmt.Errorf("decoding tank stat: %w", err)
		}

		select {
		case out <- ts:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return wrapErr(cursor.Err())
}

// TankStatsInsert implements backend.TankStatStore.
func (db *DB) TankStatsInsert(ctx context.Context, stats []models.TankStat, force bool) (int64, int64, error) {
	docs := make([]any, 0, len(stats))

	for i := range stats {
		if stats[i].ID == "" {
			stats[i].ID = stats[i].Key()
		}

		docs = append(docs, stats[i])
	}

	return db.statsInsert(ctx, models.KindTankStats, docs, force)
}

// TankStatUpdate implements backend.TankStatStore.
func (db *DB) TankStatUpdate(ctx context.Context, stat *models.TankStat, fields []string) error {
	set := bson.D{}

	for _, field := range fields {
		switch field {
		case "release":
			set = append(set, bson.E{Key: "release", Value: stat.Release})
		case "region":
			set = append(set, bson.E{Key: "region", Value: stat.Region})
		}
	}

	if len(set) == 0 {
		return nil
	}

	res, err := db.statsColl(models.KindTankStats, false).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: stat.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return wrapErr(err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: tank stat %s", backend.ErrNotFound, stat.ID)
	}

	return nil
}

// TankStatGet implements backend.TankStatStore.
func (db *DB) TankStatGet(ctx context.Context, id string) (*models.TankStat, error) {
	var ts models.TankStat

	err := db.statsColl(models.KindTankStats, false).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&ts)
	if err != nil {
		return nil, wrapErr(err)
	}

	return &ts, nil
}

// TankStatsUniqueTanks implements backend.TankStatStore.
func (db *DB) TankStatsUniqueTanks(ctx context.Context) ([]int64, error) {
	raw, err := db.statsColl(models.KindTankStats, false).Distinct(ctx, "tank_id", bson.D{})
	if err != nil {
		return nil, wrapErr(err)
	}

	tanks := make([]int64, 0, len(raw))

	for _, v := range raw {
		switch id := v.(type) {
		case int64:
			tanks = append(tanks, id)
		case int32:
			tanks = append(tanks, int64(id))
		}
	}

	return tanks, nil
}

// AchievementsCount implements backend.AchievementStore.
func (db *DB) AchievementsCount(ctx context.Context, flt backend.StatsFilter) (int64, error) {
	n, err := db.statsColl(models.KindPlayerAchievements, false).CountDocuments(ctx,
		statsMatch(models.KindPlayerAchievements, flt))

	return n, wrapErr(err)
}

// AchievementsGet implements backend.AchievementStore.
func (db *DB) AchievementsGet(ctx context.Context, flt backend.StatsFilter, out chan<- models.PlayerAchievement) error {
	cursor, err := db.statsFind(ctx, models.KindPlayerAchievements, flt)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var pa models.PlayerAchievement

		if err := cursor.Decode(&pa); err != nil {
			return fmt.Errorf("decoding achievement: %w", err)
		}

		select {
		case out <- pa:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return wrapErr(cursor.Err())
}

// AchievementsInsert implements backend.AchievementStore.
func (db *DB) AchievementsInsert(ctx context.Context, rows []models.PlayerAchievement, force bool) (int64, int64, error) {
	docs := make([]any, 0, len(rows))

	for i := range rows {
		if rows[i].ID == "" {
			rows[i].ID = rows[i].Key()
		}

		docs = append(docs, rows[i])
	}

	return db.statsInsert(ctx, models.KindPlayerAchievements, docs, force)
}

// AchievementUpdate implements backend.AchievementStore.
func (db *DB) AchievementUpdate(ctx context.Context, row *models.PlayerAchievement, fields []string) error {
	set := bson.D{}

	for _, field := range fields {
		switch field {
		case "release":
			set = append(set, bson.E{Key: "release", Value: row.Release})
		case "region":
			set = append(set, bson.E{Key: "region", Value: row.Region})
		}
	}

	if len(set) == 0 {
		return nil
	}

	res, err := db.statsColl(models.KindPlayerAchievements, false).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: row.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return wrapErr(err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: achievement %s", backend.ErrNotFound, row.ID)
	}

	return nil
}
