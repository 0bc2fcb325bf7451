package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"timelapse/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show stored frames, disk usage and the persisted schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := app.Inspect(context.Background(), cfgPath)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(st)
		}

		fmt.Println("Time-lapse Status")
		fmt.Printf("  Images:       %d\n", st.Images)
		if st.LatestImage != "" {
			fmt.Printf("  Latest:       %s\n", st.LatestImage)
		}
		if st.DiskErr != "" {
			fmt.Printf("  Disk:         %s\n", st.DiskErr)
		} else if st.Disk.Total > 0 {
			fmt.Printf("  Disk free:    %s of %s (%.1f%% used)\n",
				humanize.IBytes(st.Disk.Avail), humanize.IBytes(st.Disk.Total), st.Disk.Percent())
		}
		fmt.Printf("  Tick:         %s\n", st.Scheduler.Tick)
		for _, ev := range st.Scheduler.Events {
			last := "never"
			if !ev.LastRun.IsZero() {
				last = humanize.Time(ev.LastRun)
			}
			fmt.Printf("  %-14s every %s, last run %s\n", ev.Identity+":", ev.Interval, last)
		}
		return nil
	},
}
