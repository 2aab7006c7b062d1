// Package export moves accounts and stats between the backend and files:
// plain text, CSV and JSON for accounts, and an LZ4-framed columnar format
// for release-scoped tank stats.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/source"
)

// ErrBadFormat is returned for unsupported export file extensions.
var ErrBadFormat = errors.New("unsupported export format")

// accountsCSVHeader is the column layout of CSV account exports.
var accountsCSVHeader = []string{"id", "region", "last_battle_time", "disabled", "inactive"}

// Accounts exports the accounts matching the filter to a file; the format
// follows the extension (txt, csv or json).
func Accounts(ctx context.Context, db backend.AccountStore, flt backend.AccountFilter, path string) (*eventcounter.Counter, error) {
	counter := eventcounter.New("accounts export")

	stream := make(chan models.Account, 100)
	errc := make(chan error, 1)

	go func() {
		defer close(stream)

		errc <- db.AccountsGet(ctx, flt, stream)
	}()

	f, err := os.Create(path)
	if err != nil {
		// Unblock the stream goroutine.
		for range stream {
		}

		<-errc

		return counter, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		err = writeTxt(f, stream, counter)
	case ".csv":
		err = writeCSV(f, stream, counter)
	case ".json":
		err = writeJSON(f, stream, counter)
	default:
		err = fmt.Errorf("%w: %s", ErrBadFormat, path)
	}

	if err != nil {
		for range stream {
		}

		<-errc

		return counter, err
	}

	if err := <-errc; err != nil {
		return counter, err
	}

	return counter, f.Sync()
}

func writeTxt(f *os.File, stream <-chan models.Account, counter *eventcounter.Counter) error {
	for account := range stream {
		if _, err := fmt.Fprintf(f, "%d\n", account.ID); err != nil {
			return err
		}

		counter.Log("written")
	}

	return nil
}

func writeCSV(f *os.File, stream <-chan models.Account, counter *eventcounter.Counter) error {
	w := csv.NewWriter(f)

	if err := w.Write(accountsCSVHeader); err != nil {
		return err
	}

	for account := range stream {
		record := []string{
			strconv.FormatInt(account.ID, 10),
			string(account.Region),
			strconv.FormatInt(account.LastBattleTime, 10),
			strconv.FormatBool(account.Disabled),
			strconv.FormatBool(account.Inactive),
		}

		if err := w.Write(record); err != nil {
			return err
		}

		counter.Log("written")
	}

	w.Flush()

	return w.Error()
}

func writeJSON(f *os.File, stream <-chan models.Account, counter *eventcounter.Counter) error {
	accounts := make([]models.Account, 0)

	for account := range stream {
		accounts = append(accounts, account)
		counter.Log("written")
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return enc.Encode(accounts)
}

// TankStats exports the stat rows matching the filter as a JSON array.
// Row exports are JSON only; the columnar LZ4 format covers bulk data use.
func TankStats(ctx context.Context, db backend.TankStatStore, flt backend.StatsFilter, path string) (*eventcounter.Counter, error) {
	counter := eventcounter.New("tank stats export")

	if strings.ToLower(filepath.Ext(path)) != ".json" {
		return counter, fmt.Errorf("%w: %s", ErrBadFormat, path)
	}

	rows, err := collectTankStats(ctx, db, flt)
	if err != nil {
		return counter, err
	}

	counter.Add("written", int64(len(rows)))

	f, err := os.Create(path)
	if err != nil {
		return counter, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	if err := enc.Encode(rows); err != nil {
		return counter, err
	}

	return counter, f.Sync()
}

// ImportAccounts reads an account file (txt, csv or json by extension) and
// inserts the rows in batches. Existing accounts are skipped.
func ImportAccounts(ctx context.Context, db backend.AccountStore, path string, batchSize int) (*eventcounter.Counter, error) {
	counter := eventcounter.New("accounts import")

	if batchSize <= 0 {
		batchSize = 500
	}

	parsed, err := source.ReadFile(path)
	if err != nil {
		return counter, err
	}

	accounts := make([]models.Account, 0, len(parsed))

	for _, account := range parsed {
		if err := account.EnsureRegion(); err != nil {
			counter.Log("errors")

			continue
		}

		accounts = append(accounts, account)
		counter.Log("read")
	}

	for start := 0; start < len(accounts); start += batchSize {
		end := start + batchSize
		if end > len(accounts) {
			end = len(accounts)
		}

		inserted, skipped, err := db.AccountsInsert(ctx, accounts[start:end])
		if err != nil {
			return counter, err
		}

		counter.Add("inserted", inserted)
		counter.Add("skipped", skipped)

		if err := ctx.Err(); err != nil {
			return counter, err
		}
	}

	return counter, nil
}
