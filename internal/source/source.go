// Package source composes the account stream feeding the fetcher pipelines.
// Accounts come from an explicit id list, a file (txt, csv or json by
// extension) or a backend query, in that precedence order.
package source

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/blitzstack/statmill/internal/backend"
	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/models"
	"github.com/blitzstack/statmill/internal/queue"
)

// ErrNoSource is returned when neither ids, file nor a backend is available.
var ErrNoSource = errors.New("no account source configured")

// ErrBadFormat is returned for unsupported or malformed account files.
var ErrBadFormat = errors.New("unsupported account file format")

// Options selects where accounts come from and how they are filtered.
type Options struct {
	// IDs is an explicit account list; takes precedence over everything.
	IDs []int64
	// File is an account file path, used when IDs is empty.
	File string
	// Filter drives the backend query and, for IDs and File sources, the
	// distributed sharding.
	Filter backend.AccountFilter
}

// Source streams accounts into a queue. The backend may be nil when every
// invocation uses ids or files.
type Source struct {
	db  backend.AccountStore
	log *slog.Logger
}

// New creates a source over a backend account store.
func New(db backend.AccountStore) *Source {
	return &Source{db: db, log: slog.Default().With("component", "source")}
}

// Count returns the number of accounts the stream will yield, for progress
// totals. Never derived from queue sizes.
func (s *Source) Count(ctx context.Context, opts Options) (int64, error) {
	switch {
	case len(opts.IDs) > 0:
		return int64(len(shardIDs(opts.IDs, opts.Filter.Distributed))), nil
	case opts.File != "":
		accounts, err := ReadFile(opts.File)
		if err != nil {
			return 0, err
		}

		var n int64

		for _, a := range accounts {
			if opts.Filter.Distributed.Match(a.ID) {
				n++
			}
		}

		return n, nil
	case s.db != nil:
		return s.db.AccountsCount(ctx, opts.Filter)
	}

	return 0, ErrNoSource
}

// Stream produces the account stream into q, registering exactly one
// producer and finishing it on return. The returned counter carries "read"
// and "errors".
func (s *Source) Stream(ctx context.Context, opts Options, q *queue.Queue[models.Account]) (*eventcounter.Counter, error) {
	counter := eventcounter.New("accounts source")

	q.AddProducer()
	defer q.Finish() //nolint:errcheck

	var err error

	switch {
	case len(opts.IDs) > 0:
		err = s.streamIDs(ctx, opts, q, counter)
	case opts.File != "":
		err = s.streamFile(ctx, opts, q, counter)
	case s.db != nil:
		err = s.streamBackend(ctx, opts, q, counter)
	default:
		err = ErrNoSource
	}

	return counter, err
}

func (s *Source) streamIDs(ctx context.Context, opts Options, q *queue.Queue[models.Account], counter *eventcounter.Counter) error {
	for _, id := range shardIDs(opts.IDs, opts.Filter.Distributed) {
		account, err := models.NewAccount(id)
		if err != nil {
			counter.Log("errors")
			s.log.Warn("skipping account", "id", id, "error", err)

			continue
		}

		if err := q.Put(ctx, *account); err != nil {
			return err
		}

		counter.Log("read")
	}

	return nil
}

func (s *Source) streamFile(ctx context.Context, opts Options, q *queue.Queue[models.Account], counter *eventcounter.Counter) error {
	accounts, err := ReadFile(opts.File)
	if err != nil {
		return err
	}

	for _, account := range accounts {
		if !opts.Filter.Distributed.Match(account.ID) {
			continue
		}

		if err := account.EnsureRegion(); err != nil {
			counter.Log("errors")
			s.log.Warn("skipping account", "id", account.ID, "error", err)

			continue
		}

		if err := q.Put(ctx, account); err != nil {
			return err
		}

		counter.Log("read")
	}

	return nil
}

func (s *Source) streamBackend(ctx context.Context, opts Options, q *queue.Queue[models.Account], counter *eventcounter.Counter) error {
	stream := make(chan models.Account, q.Cap())
	errc := make(chan error, 1)

	go func() {
		defer close(stream)

		errc <- s.db.AccountsGet(ctx, opts.Filter, stream)
	}()

	for account := range stream {
		if err := q.Put(ctx, account); err != nil {
			// Drain so the backend goroutine can exit.
			for range stream {
			}

			<-errc

			return err
		}

		counter.Log("read")
	}

	return <-errc
}

func shardIDs(ids []int64, d backend.Distributed) []int64 {
	if !d.Active() {
		return ids
	}

	matched := make([]int64, 0, len(ids))

	for _, id := range ids {
		if d.Match(id) {
			matched = append(matched, id)
		}
	}

	return matched
}

// ReadFile parses an account file by extension: .txt is one id per line,
// .csv has a header row, .json is an array of account objects.
func ReadFile(path string) ([]models.Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening account file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt":
		return parseTxt(f)
	case ".csv":
		return parseCSV(f)
	case ".json":
		return parseJSON(f)
	}

	return nil, fmt.Errorf("%w: %s", ErrBadFormat, path)
}

func parseTxt(r io.Reader) ([]models.Account, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0)

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad account id %q", ErrBadFormat, line)
		}

		accounts = append(accounts, models.Account{ID: id})
	}

	return accounts, nil
}

func parseCSV(r io.Reader) ([]models.Account, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: missing csv header", ErrBadFormat)
	}

	idCol := -1

	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "id", "account_id":
			idCol = i
		}
	}

	if idCol < 0 {
		return nil, fmt.Errorf("%w: csv header lacks an id column", ErrBadFormat)
	}

	accounts := make([]models.Account, 0)

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}

		id, err := strconv.ParseInt(strings.TrimSpace(record[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad account id %q", ErrBadFormat, record[idCol])
		}

		accounts = append(accounts, models.Account{ID: id})
	}

	return accounts, nil
}

func parseJSON(r io.Reader) ([]models.Account, error) {
	var accounts []models.Account

	if err := json.NewDecoder(r).Decode(&accounts); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadFormat, err)
	}

	return accounts, nil
}
