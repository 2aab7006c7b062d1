package backend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/blitzstack/statmill/internal/models"
)

// OptBool is a three-state boolean filter: unset matches both values.
type OptBool int

// OptBool states.
const (
	BothOpt OptBool = iota
	TrueOpt
	FalseOpt
)

// Match reports whether the value passes the filter.
func (o OptBool) Match(v bool) bool {
	switch o {
	case TrueOpt:
		return v
	case FalseOpt:
		return !v
	}

	return true
}

// ErrBadDistributed is returned when a distributed spec does not parse.
var ErrBadDistributed = errors.New("invalid distributed spec, want I:N with 0 <= I < N")

// Distributed shards accounts across cooperating invocations: only accounts
// with id mod N == I match. Zero value means no sharding.
type Distributed struct {
	I int64
	N int64
}

// ParseDistributed parses an "I:N" spec. Empty input yields the zero value.
func ParseDistributed(s string) (Distributed, error) {
	if s == "" {
		return Distributed{}, nil
	}

	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return Distributed{}, fmt.Errorf("%w: %q", ErrBadDistributed, s)
	}

	i, errI := strconv.ParseInt(parts[0], 10, 64)
	n, errN := strconv.ParseInt(parts[1], 10, 64)

	if errI != nil || errN != nil || n <= 0 || i < 0 || i >= n {
		return Distributed{}, fmt.Errorf("%w: %q", ErrBadDistributed, s)
	}

	return Distributed{I: i, N: n}, nil
}

// Active reports whether sharding is enabled.
func (d Distributed) Active() bool {
	return d.N > 1
}

// Match reports whether the account id belongs to this shard.
func (d Distributed) Match(id int64) bool {
	if !d.Active() {
		return true
	}

	return id%d.N == d.I
}

// Sample limits a result set: a value in (0, 1) selects that fraction of
// matching rows, a value >= 1 selects an absolute count, zero selects all.
type Sample float64

// Size resolves the sample against a total row count.
func (s Sample) Size(total int64) int64 {
	switch {
	case s <= 0:
		return total
	case s < 1:
		n := int64(float64(total) * float64(s))
		if n < 1 {
			n = 1
		}

		return n
	default:
		n := int64(s)
		if n > total {
			n = total
		}

		return n
	}
}

// AccountFilter selects accounts for counting and streaming.
type AccountFilter struct {
	Kind        models.StatsKind
	Regions     []models.Region
	Inactive    OptBool
	Disabled    OptBool
	Sample      Sample
	CacheValid  int64 // epoch cutoff; only accounts with stats_updated[kind] older than this match; zero disables
	Distributed Distributed
}

// StatsFilter selects stat rows for counting, streaming and export.
type StatsFilter struct {
	Release  string
	Regions  []models.Region
	Accounts []int64
	Tanks    []int64
	Since    int64
	Sample   Sample
}

// Window is a half-open release time window (Start, End]; End zero means
// unbounded.
type Window struct {
	Start int64
	End   int64
}

// Contains reports whether t lies in the window.
func (w Window) Contains(t int64) bool {
	if t <= w.Start {
		return false
	}

	return w.End <= 0 || t <= w.End
}

// WindowOf returns the stat window of a release.
func WindowOf(r models.Release) Window {
	return Window{Start: r.LaunchTime, End: r.CutoffTime}
}

// Partition is one unit of duplicate analysis and snapshotting: an
// account-id range, optionally narrowed to a single tank. TankID zero means
// "all tanks" (used for achievements).
type Partition struct {
	AccountLow  int64
	AccountHigh int64
	TankID      int64
}

// ContainsAccount reports whether the account id falls into the partition
// range [AccountLow, AccountHigh).
func (p Partition) ContainsAccount(id int64) bool {
	return id >= p.AccountLow && id < p.AccountHigh
}

// DuplicatesQuery selects duplicate stat rows within one release window:
// rows sharing an identity key with a newer row inside the window.
type DuplicatesQuery struct {
	Kind    models.StatsKind
	Window  Window
	Release string
	TankID  int64 // zero for achievements
	Regions []models.Region
	Archive bool
	Sample  Sample
}
