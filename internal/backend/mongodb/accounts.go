package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/models"
)

// accountMatch translates an AccountFilter into a find filter.
func accountMatch(flt backend.AccountFilter) bson.D {
	match := bson.D{}

	if len(flt.Regions) > 0 {
		match = append(match, regionsFilter(flt.Regions))
	}

	switch flt.Disabled {
	case backend.TrueOpt:
		match = append(match, bson.E{Key: "disabled", Value: true})
	case backend.FalseOpt:
		match = append(match, bson.E{Key: "disabled", Value: bson.D{{Key: "$ne", Value: true}}})
	}

	switch flt.Inactive {
	case backend.TrueOpt:
		match = append(match, bson.E{Key: "inactive", Value: true})
	case backend.FalseOpt:
		match = append(match, bson.E{Key: "inactive", Value: bson.D{{Key: "$ne", Value: true}}})
	}

	if flt.Distributed.Active() {
		match = append(match, bson.E{Key: "_id", Value: bson.D{{Key: "$mod", Value: bson.A{flt.Distributed.N, flt.Distributed.I}}}})
	}

	if flt.CacheValid > 0 && flt.Kind != "" {
		field := "stats_updated." + string(flt.Kind)
		match = append(match, bson.E{Key: field, Value: bson.D{{Key: "$not", Value: bson.D{{Key: "$gte", Value: flt.CacheValid}}}}})
	}

	return match
}

// AccountsCount implements backend.AccountStore.
func (db *DB) AccountsCount(ctx context.Context, flt backend.AccountFilter) (int64, error) {
	n, err := db.db.Collection(collAccounts).CountDocuments(ctx, accountMatch(flt))

	return n, wrapErr(err)
}

// AccountsGet implements backend.AccountStore.
func (db *DB) AccountsGet(ctx context.Context, flt backend.AccountFilter, out chan<- models.Account) error {
	coll := db.db.Collection(collAccounts)
	match := accountMatch(flt)

	opts := options.Find()

	if flt.Sample > 0 {
		total, err := coll.CountDocuments(ctx, match)
		if err != nil {
			return wrapErr(err)
		}

		opts.SetLimit(flt.Sample.Size(total))
	}

	cursor, err := coll.Find(ctx, match, opts)
	if err != nil {
		return wrapErr(err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var account models.Account

		if err := cursor.Decode(&account); err != nil {
			return fmt.Errorf("decoding account: %w", err)
		}

		select {
		case out <- account:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return wrapErr(cursor.Err())
}

// AccountsInsert implements backend.AccountStore. The insert is unordered so
// one existing row does not fail the batch.
func (db *DB) AccountsInsert(ctx context.Context, accounts []models.Account) (int64, int64, error) {
	if len(accounts) == 0 {
		return 0, 0, nil
	}

	docs := make([]any, 0, len(accounts))
	for i := range accounts {
		docs = append(docs, accounts[i])
	}

	_, err := db.db.Collection(collAccounts).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))

	return insertedCount(len(accounts), err)
}

// AccountGet implements backend.AccountStore.
func (db *DB) AccountGet(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account

	err := db.db.Collection(collAccounts).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&account)
	if err != nil {
		return nil, wrapErr(err)
	}

	return &account, nil
}

// AccountUpdate implements backend.AccountStore.
func (db *DB) AccountUpdate(ctx context.Context, account *models.Account, fields []string) error {
	set := bson.D{}

	for _, field := range fields {
		switch field {
		case "region":
			set = append(set, bson.E{Key: "region", Value: account.Region})
		case "last_battle_time":
			set = append(set, bson.E{Key: "last_battle_time", Value: account.LastBattleTime})
		case "disabled":
			set = append(set, bson.E{Key: "disabled", Value: account.Disabled})
		case "inactive":
			set = append(set, bson.E{Key: "inactive", Value: account.Inactive})
		case "stats_updated":
			set = append(set, bson.E{Key: "stats_updated", Value: account.StatsUpdated})
		}
	}

	if len(set) == 0 {
		return nil
	}

	res, err := db.db.Collection(collAccounts).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: account.ID}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return wrapErr(err)
	}

	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: account %d", backend.ErrNotFound, account.ID)
	}

	return nil
}

// AccountReplace implements backend.AccountStore.
func (db *DB) AccountReplace(ctx context.Context, account *models.Account, upsert bool) error {
	res, err := db.db.Collection(collAccounts).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: account.ID}}, account, options.Replace().SetUpsert(upsert))
	if err != nil {
		return wrapErr(err)
	}

	if res.MatchedCount == 0 && res.UpsertedCount == 0 {
		return fmt.Errorf("%w: account %d", backend.ErrNotFound, account.ID)
	}

	return nil
}

// AccountDelete implements backend.AccountStore.
func (db *DB) AccountDelete(ctx context.Context, id int64) error {
	res, err := db.db.Collection(collAccounts).DeleteOne(ctx, bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return wrapErr(err)
	}

	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: account %d", backend.ErrNotFound, id)
	}

	return nil
}
