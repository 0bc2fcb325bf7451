package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"timelapse/internal/app"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "List registered events with their last run and next due time",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.Inspect(context.Background(), cfgPath)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st.Scheduler.Events)
		}

		now := time.Now()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "EVENT\tINTERVAL\tOVERLAP\tLAST RUN\tNEXT DUE")
		for _, ev := range st.Scheduler.Events {
			last, next := "-", "now"
			if !ev.LastRun.IsZero() {
				last = ev.LastRun.Format(time.DateTime)
				if ev.NextDue.After(now) {
					next = ev.NextDue.Format(time.DateTime)
				}
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", ev.Identity, ev.Interval, ev.Overlap, last, next)
		}
		fmt.Fprintf(w, "\ntick: %s\n", st.Scheduler.Tick)
		return w.Flush()
	},
}
