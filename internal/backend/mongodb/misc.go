package mongodb

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// ReplayGet implements backend.ReplayStore.
func (db *DB) ReplayGet(ctx context.Context, id string) (*models.Replay, error) {
	var replay models.Replay

	err := db.db.Collection(collReplays).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&replay)
	if err != nil {
		return nil, wrapErr(err)
	}

	return &replay, nil
}

// ReplayInsert implements backend.ReplayStore.
func (db *DB) ReplayInsert(ctx context.Context, replay *models.Replay) error {
	_, err := db.db.Collection(collReplays).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: replay.ID}}, replay, options.Replace().SetUpsert(true))

	return wrapErr(err)
}

// ReplaysExport implements backend.ReplayStore.
func (db *DB) ReplaysExport(ctx context.Context, sample backend.Sample, out chan<- models.Replay) error {
	coll := db.db.Collection(collReplays)

	opts := options.Find()

	if sample > 0 {
		total, err := coll.CountDocuments(ctx, bson.D{})
		if err != nil {
			return wrapErr(err)
		}

		opts.SetLimit(sample.Size(total))
	}

	cursor, err := coll.Find(ctx, bson.D{}, opts)
	if err != nil {
		return wrapErr(err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var replay models.Replay

		if err := cursor.Decode(&replay); err != nil {
			return fmt.Errorf("decoding replay: %w", err)
		}

		select {
		case out <- replay:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return wrapErr(cursor.Err())
}

// ReleaseGet implements backend.ReleaseStore.
func (db *DB) ReleaseGet(ctx context.Context, release string) (*models.Release, error) {
	var r models.Release

	err := db.db.Collection(collReleases).FindOne(ctx, bson.D{{Key: "release", Value: release}}).Decode(&r)
	if err != nil {
		return nil, wrapErr(err)
	}

	return &r, nil
}

// ReleasesGet implements backend.ReleaseStore.
func (db *DB) ReleasesGet(ctx context.Context) ([]models.Release, error) {
	cursor, err := db.db.Collection(collReleases).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "launch_time", Value: 1}}))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	releases := make([]models.Release, 0)

	if err := cursor.All(ctx, &releases); err != nil {
		return nil, wrapErr(err)
	}

	return releases, nil
}

// ReleaseInsert implements backend.ReleaseStore.
func (db *DB) ReleaseInsert(ctx context.Context, release *models.Release) error {
	n, err := db.db.Collection(collReleases).CountDocuments(ctx,
		bson.D{{Key: "release", Value: release.Release}}, options.Count().SetLimit(1))
	if err != nil {
		return wrapErr(err)
	}

	if n > 0 {
		return fmt.Errorf("release %s already exists: %w", release.Release, backend.ErrFatal)
	}

	_, err = db.db.Collection(collReleases).InsertOne(ctx, release)

	return wrapErr(err)
}

// ReleaseUpdate implements backend.ReleaseStore.
func (db *DB) ReleaseUpdate(ctx context.Context, release *models.Release) error {
	res, err := db.db.Collection(collReleases).ReplaceOne(ctx,
		bson.D{{Key: "release", Value: release.Release}}, release)
	if err != nil {
		return wrapErr(err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: release %s", backend.ErrNotFound, release.Release)
	}

	return nil
}

// ReleaseDelete implements backend.ReleaseStore.
func (db *DB) ReleaseDelete(ctx context.Context, release string) error {
	res, err := db.db.Collection(collReleases).DeleteOne(ctx, bson.D{{Key: "release", Value: release}})
	if err != nil {
		return wrapErr(err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: release %s", backend.ErrNotFound, release)
	}

	return nil
}

// TankopediaCount implements backend.TankopediaStore.
func (db *DB) TankopediaCount(ctx context.Context) (int64, error) {
	n, err := db.db.Collection(collTankopedia).CountDocuments(ctx, bson.D{})

	return n, wrapErr(err)
}

// TankopediaGet implements backend.TankopediaStore.
func (db *DB) TankopediaGet(ctx context.Context) ([]models.Tank, error) {
	cursor, err := db.db.Collection(collTankopedia).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrapErr(err)
	}
	defer cursor.Close(ctx)

	tanks := make([]models.Tank, 0)

	if err := cursor.All(ctx, &tanks); err != nil {
		return nil, wrapErr(err)
	}

	return tanks, nil
}

// TankInsert implements backend.TankopediaStore.
func (db *DB) TankInsert(ctx context.Context, tank *models.Tank, replace bool) error {
	if replace {
		_, err := db.db.Collection(collTankopedia).ReplaceOne(ctx,
			bson.D{{Key: "_id", Value: tank.TankID}}, tank, options.Replace().SetUpsert(true))

		return wrapErr(err)
	}

	_, err := db.db.Collection(collTankopedia).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: tank.TankID}},
		bson.D{{Key: "$setOnInsert", Value: tank}},
		options.Update().SetUpsert(true))

	return wrapErr(err)
}

// ErrorLogAdd implements backend.LogStore.
func (db *DB) ErrorLogAdd(ctx context.Context, accountID int64, kind models.StatsKind, at int64) error {
	if at == 0 {
		at = time.Now().Unix()
	}

	_, err := db.db.Collection(collErrorLog).InsertOne(ctx, bson.D{
		{Key: "account_id", Value: accountID},
		{Key: "type", Value: string(kind)},
		{Key: "time", Value: at},
	})

	return wrapErr(err)
}

// ErrorLogAccounts implements backend.LogStore.
func (db *DB) ErrorLogAccounts(ctx context.Context, kind models.StatsKind) ([]int64, error) {
	raw, err := db.db.Collection(collErrorLog).Distinct(ctx, "account_id",
		bson.D{{Key: "type", Value: string(kind)}})
	if err != nil {
		return nil, wrapErr(err)
	}

	ids := make([]int64, 0, len(raw))

	for _, v := range raw {
		ids = append(ids, toInt64(v))
	}

	return ids, nil
}

// ErrorLogClear implements backend.LogStore.
func (db *DB) ErrorLogClear(ctx context.Context, accountID int64, kind models.StatsKind) error {
	_, err := db.db.Collection(collErrorLog).DeleteMany(ctx, bson.D{
		{Key: "account_id", Value: accountID},
		{Key: "type", Value: string(kind)},
	})

	return wrapErr(err)
}

// UpdateLogAdd implements backend.LogStore.
func (db *DB) UpdateLogAdd(ctx context.Context, action string, kind models.StatsKind, release string) error {
	_, err := db.db.Collection(collUpdateLog).InsertOne(ctx, bson.D{
		{Key: "action", Value: action},
		{Key: "type", Value: string(kind)},
		{Key: "release", Value: release},
		{Key: "updated", Value: time.Now().Unix()},
	})

	return wrapErr(err)
}
