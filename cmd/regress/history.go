package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/hdl-regress/internal/history"
	"github.com/spf13/cobra"
)

var (
	historyLimit int
	historySeed  string
)

func init() {
	historyCmd := &cobra.Command{
		Use:   "history [INVOCATION]",
		Short: "Show past invocations, or the runs of one invocation",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of invocations to list (0 for all)")
	historyCmd.Flags().StringVar(&historySeed, "seed", "", "find the runs that used a seed")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.General.HistoryDB == "" {
		return fmt.Errorf("history is disabled (general.history_db is empty)")
	}

	store, err := history.New(cfg.General.HistoryDB)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	switch {
	case historySeed != "":
		seed, err := strconv.ParseUint(historySeed, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid seed %q: %w", historySeed, err)
		}
		recs, err := store.FindSeed(seed)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Printf("Seed %d has not been used\n", seed)
			return nil
		}
		printRecords(recs, true)
		return nil

	case len(args) == 1:
		inv, err := store.GetInvocation(args[0])
		if err != nil {
			return fmt.Errorf("invocation %s: %w", args[0], err)
		}
		fmt.Printf("Invocation %s, started %s, %d runs per unit on %d workers\n",
			inv.ID, humanize.Time(inv.StartedAt), inv.Runs, inv.Width)
		fmt.Printf("%d passed, %d failed, %d errors, %d with coverage\n\n",
			inv.Passed, inv.Failed, inv.Errored, inv.Collected)
		recs, err := store.ListResults(inv.ID)
		if err != nil {
			return err
		}
		printRecords(recs, false)
		return nil
	}

	invocations, err := store.ListInvocations(historyLimit)
	if err != nil {
		return err
	}
	if len(invocations) == 0 {
		fmt.Println("No invocations recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tUNITS\tRUNS\tPASSED\tFAILED\tMERGED\tDURATION")
	for _, inv := range invocations {
		merged := "no"
		if inv.Merged {
			merged = strconv.Itoa(inv.MergeInputs)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\t%s\n",
			inv.ID, humanize.Time(inv.StartedAt), len(inv.Units), inv.Total,
			inv.Passed, inv.Failed+inv.Errored, merged, inv.Duration().Round(time.Second))
	}
	w.Flush()
	return nil
}

func printRecords(recs []history.TaskRecord, withInvocation bool) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if withInvocation {
		fmt.Fprint(w, "INVOCATION\t")
	}
	fmt.Fprintln(w, "#\tUNIT\tRUN\tSEED\tSTATUS\tEXIT\tCOVERAGE\tDURATION\tERROR")
	for _, r := range recs {
		if withInvocation {
			fmt.Fprintf(w, "%s\t", r.InvocationID)
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%s\t%d\t%s\t%s\t%s\n",
			r.OrderIndex, r.Unit, r.RunIndex, r.Seed, r.Status, r.ExitCode, r.Coverage, r.Duration, r.Error)
	}
	w.Flush()
}
