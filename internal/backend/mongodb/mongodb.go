// Package mongodb is the reference Backend driver. One database holds all
// collections; documents are stored with the models' bson mappings and the
// primary key in _id.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// DriverName is the name this driver registers under.
const DriverName = "mongodb"

// Collection names.
const (
	collAccounts           = "Accounts"
	collTankStats          = "TankStats"
	collTankStatsArchive   = "TankStats_Archive"
	collAchievements       = "PlayerAchievements"
	collAchievementArchive = "PlayerAchievements_Archive"
	collReplays            = "Replays"
	collReleases           = "Releases"
	collTankopedia         = "Tankopedia"
	collStatsToDelete      = "StatsToDelete"
	collUpdateLog          = "UpdateLog"
	collErrorLog           = "ErrorLog"
)

const defaultDatabase = "BlitzStats"

func init() {
	backend.Register(DriverName, func(ctx context.Context, opts map[string]string) (backend.Backend, error) {
		return Open(ctx, opts["uri"], opts["database"])
	})
}

// DB is the MongoDB backend.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to the server and pings it. An empty database name selects
// the default.
func Open(ctx context.Context, uri, database string) (*DB, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongodb uri not configured: %w", backend.ErrFatal)
	}

	if database == "" {
		database = defaultDatabase
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)

		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	return &DB{client: client, db: client.Database(database)}, nil
}

// Driver implements backend.Backend.
func (db *DB) Driver() string {
	return DriverName
}

// Close implements backend.Backend.
func (db *DB) Close(ctx context.Context) error {
	return db.client.Disconnect(ctx)
}

// Setup implements backend.Backend: create the index set the pipeline
// queries depend on. Index creation is idempotent.
func (db *DB) Setup(ctx context.Context) error {
	for _, spec := range []struct {
		coll string
		keys bson.D
	}{
		{collTankStats, bson.D{{Key: "account_id", Value: 1}, {Key: "tank_id", Value: 1}, {Key: "last_battle_time", Value: -1}}},
		{collTankStats, bson.D{{Key: "tank_id", Value: 1}, {Key: "last_battle_time", Value: -1}}},
		{collTankStatsArchive, bson.D{{Key: "account_id", Value: 1}, {Key: "tank_id", Value: 1}, {Key: "last_battle_time", Value: -1}}},
		{collTankStatsArchive, bson.D{{Key: "tank_id", Value: 1}, {Key: "last_battle_time", Value: -1}}},
		{collAchievements, bson.D{{Key: "account_id", Value: 1}, {Key: "updated", Value: -1}}},
		{collAchievementArchive, bson.D{{Key: "account_id", Value: 1}, {Key: "updated", Value: -1}}},
		{collReleases, bson.D{{Key: "launch_time", Value: 1}}},
		{collStatsToDelete, bson.D{{Key: "type", Value: 1}, {Key: "id", Value: 1}}},
		{collErrorLog, bson.D{{Key: "account_id", Value: 1}, {Key: "time", Value: -1}, {Key: "type", Value: 1}}},
	} {
		_, err := db.db.Collection(spec.coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: spec.keys})
		if err != nil {
			return fmt.Errorf("creating index on %s: %w", spec.coll, err)
		}
	}

	return nil
}

// statsColl resolves the collection of a stats kind, hot or archive.
func (db *DB) statsColl(kind models.StatsKind, archive bool) *mongo.Collection {
	var name string

	switch kind {
	case models.KindPlayerAchievements:
		name = collAchievements
		if archive {
			name = collAchievementArchive
		}
	default:
		name = collTankStats
		if archive {
			name = collTankStatsArchive
		}
	}

	return db.db.Collection(name)
}

// tsField is the timestamp field name of a stats kind.
func tsField(kind models.StatsKind) string {
	if kind == models.KindPlayerAchievements {
		return "updated"
	}

	return "last_battle_time"
}

// wrapErr maps driver errors onto the backend error taxonomy. Network and
// server-selection failures are transient, the rest fatal.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s", backend.ErrNotFound, err)
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return backend.Transient(err)
	}

	return err
}

// insertedCount resolves the outcome of an unordered InsertMany: duplicate
// key failures count as skipped rows, anything else is an error.
func insertedCount(total int, err error) (int64, int64, error) {
	if err == nil {
		return int64(total), 0, nil
	}

	var bwe mongo.BulkWriteException
	if errors.As(err, &bwe) {
		var skipped int64

		for _, we := range bwe.WriteErrors {
			if !mongo.IsDuplicateKeyError(we) {
				return 0, 0, wrapErr(err)
			}

			skipped++
		}

		return int64(total) - skipped, skipped, nil
	}

	return 0, 0, wrapErr(err)
}

// windowFilter builds the timestamp bound of a window for the given field.
func windowFilter(field string, w backend.Window) bson.D {
	bounds := bson.D{{Key: "$gt", Value: w.Start}}
	if w.End > 0 {
		bounds = append(bounds, bson.E{Key: "$lte", Value: w.End})
	}

	return bson.D{{Key: field, Value: bounds}}
}

func regionsFilter(regions []models.Region) bson.E {
	names := make([]string, 0, len(regions))

	for _, r := range regions {
		names = append(names, string(r))
	}

	return bson.E{Key: "region", Value: bson.D{{Key: "$in", Value: names}}}
}
