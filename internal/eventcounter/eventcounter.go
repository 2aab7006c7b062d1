// Package eventcounter provides named counters used as the only cross-worker
// return value in the pipelines. Workers accumulate into a private counter
// and the owner merges the results on arrival, so no ad-hoc result tuples
// travel between goroutines.
package eventcounter

import (
	"context"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Counter is a set of named non-negative tallies with stable ordering.
// Safe for concurrent use.
type Counter struct {
	name string

	mu     sync.Mutex
	counts map[string]int64
	order  []string
}

// New creates a counter titled name.
func New(name string) *Counter {
	return &Counter{
		name:   name,
		counts: make(map[string]int64),
	}
}

// Name returns the counter title.
func (c *Counter) Name() string {
	return c.name
}

// Log increments the named tally by one.
func (c *Counter) Log(name string) {
	c.Add(name, 1)
}

// Add increments the named tally by n.
func (c *Counter) Add(name string, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.add(name, n)
}

// add requires c.mu held.
func (c *Counter) add(name string, n int64) {
	if _, seen := c.counts[name]; !seen {
		c.order = append(c.order, name)
	}

	c.counts[name] += n
}

// Get returns the named tally, zero when never logged.
func (c *Counter) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.counts[name]
}

// Merge adds every tally of other into c. Other's ordering is preserved for
// names c has not seen yet.
func (c *Counter) Merge(other *Counter) {
	if other == nil || other == c {
		return
	}

	other.mu.Lock()
	names := make([]string, len(other.order))
	copy(names, other.order)

	counts := make(map[string]int64, len(other.counts))
	for name, n := range other.counts {
		counts[name] = n
	}
	other.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range names {
		c.add(name, counts[name])
	}
}

// Names returns the tally names in first-logged order.
func (c *Counter) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, len(c.order))
	copy(names, c.order)

	return names
}

// Gather merges worker results into c as they arrive, until the results
// channel closes or the context is cancelled. Workers send their partial
// counter exactly once, including on the cancellation path.
func (c *Counter) Gather(ctx context.Context, results <-chan *Counter) error {
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return nil
			}

			c.Merge(res)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Report renders the counter as an aligned two-column table.
func (c *Counter) Report() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	w := table.NewWriter()
	w.SetStyle(table.StyleLight)
	w.SetTitle(c.name)
	w.AppendHeader(table.Row{"event", "count"})

	for _, name := range c.order {
		w.AppendRow(table.Row{name, humanize.Comma(c.counts[name])})
	}

	return w.Render()
}

// String returns a compact single-line rendering for logs.
func (c *Counter) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder

	b.WriteString(c.name)
	b.WriteString(":")

	for _, name := range c.order {
		b.WriteString(" ")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(humanize.Comma(c.counts[name]))
	}

	return b.String()
}
