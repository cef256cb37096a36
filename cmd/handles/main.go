// handles ranks tweet authors by realized trading performance, read from
// the position journal a live or replay run produced.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/quantfeed/tweettrader/internal/journal"
	"github.com/quantfeed/tweettrader/internal/perf"
)

func main() {
	journalPath := flag.String("journal", "data/positions.jsonl", "position journal to analyze")
	by := flag.String("by", "handle", "grouping: handle or symbol")
	minTrades := flag.Int("min-trades", 1, "hide groups with fewer closed trades")
	asJSON := flag.Bool("json", false, "emit JSON instead of a table")
	flag.Parse()

	if err := run(*journalPath, *by, *minTrades, *asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "handles:", err)
		os.Exit(1)
	}
}

func run(journalPath, by string, minTrades int, asJSON bool) error {
	log, err := journal.NewPositionLog(journalPath)
	if err != nil {
		return err
	}
	positions, err := log.ReadState()
	if err != nil {
		return err
	}

	agg := perf.NewAggregator()
	for _, p := range positions {
		agg.Record(p)
	}

	var summaries []perf.Summary
	switch by {
	case "handle":
		summaries = agg.ByHandle()
	case "symbol":
		summaries = agg.BySymbol()
	default:
		return fmt.Errorf("unknown grouping %q", by)
	}

	filtered := summaries[:0]
	for _, s := range summaries {
		if s.TradeCount >= minTrades {
			filtered = append(filtered, s)
		}
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(filtered)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%s\ttrades\twins\twin rate\ttotal pnl\tavg return\tmax drawdown\n", by)
	for _, s := range filtered {
		fmt.Fprintf(w, "%s\t%d\t%d\t%.1f%%\t%.2f\t%.2f%%\t%.2f\n",
			s.Key, s.TradeCount, s.Wins, s.WinRate*100, s.TotalPnL, s.AvgReturn*100, s.MaxDrawdown)
	}
	return w.Flush()
}
