package commands

import (
	"io"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/blitzstack/statmill/internal/eventcounter"
	"github.com/blitzstack/statmill/internal/fetcher"
	"github.com/blitzstack/statmill/internal/models"
)

// printReport renders the merged counter blocks a command finished with.
// Nil counters are skipped so callers can pass optional client stats.
func printReport(w io.Writer, counters ...*eventcounter.Counter) {
	for _, counter := range counters {
		if counter == nil || len(counter.Names()) == 0 {
			continue
		}

		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.SetTitle(color.New(color.Bold).Sprint(counter.Name()))
		t.AppendHeader(table.Row{"event", "count"})

		for _, name := range counter.Names() {
			t.AppendRow(table.Row{name, humanize.Comma(counter.Get(name))})
		}

		t.Render()
	}
}

// report prints the counter blocks to the command's stdout.
func (e *Env) report(cmd *cobra.Command, counters ...*eventcounter.Counter) {
	if e.silent {
		return
	}

	printReport(cmd.OutOrStdout(), counters...)
}

// observeFetch forwards fetch-pipeline counters to the Prometheus metrics.
func (e *Env) observeFetch(kind models.StatsKind, counter *eventcounter.Counter) {
	if counter == nil {
		return
	}

	e.metrics.AccountsFetched.WithLabelValues(string(kind)).
		Add(float64(counter.Get(fetcher.CounterTotal)))
	e.metrics.StatsInserted.WithLabelValues(string(kind)).
		Add(float64(counter.Get(fetcher.CounterFetched)))
	e.metrics.Errors.WithLabelValues("fetch").
		Add(float64(counter.Get(fetcher.CounterErrors)))
}
