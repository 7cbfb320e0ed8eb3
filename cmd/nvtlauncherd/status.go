package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fvbommel/sortorder"
	"github.com/olekukonko/tablewriter"

	"github.com/greenbone/nvt-launcher/launcher"
)

// newStatusCmd renders a slot snapshot file previously written by
// `run --snapshot-out`. It has no live daemon to query, so it reads the
// last thing `run` recorded before exiting.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <snapshot-file>",
		Short: "Render a slot snapshot written by a prior `run --snapshot-out`",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open snapshot: %w", err)
			}
			defer f.Close()

			var slots []launcher.SlotInfo
			if err := json.NewDecoder(f).Decode(&slots); err != nil {
				return fmt.Errorf("decode snapshot: %w", err)
			}

			renderStatus(slots)

			return nil
		},
	}
}

// renderStatus prints a table of the slots occupied at the moment the
// snapshot was taken, ordered by OID using natural sort so that numeric OID
// suffixes compare the way an operator expects (oid.9 before oid.10).
func renderStatus(slots []launcher.SlotInfo) {
	sort.Slice(slots, func(i, j int) bool {
		return sortorder.NaturalLess(slots[i].OID, slots[j].OID)
	})

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"OID", "PID", "State", "Started", "Timeout (s)"})

	for _, s := range slots {
		table.Append([]string{
			s.OID,
			strconv.Itoa(s.PID),
			s.State.String(),
			s.StartTime.Format("15:04:05"),
			timeoutLabel(s.Timeout),
		})
	}

	table.Render()
}

func timeoutLabel(seconds int) string {
	if seconds == launcher.NeverKill {
		return "never"
	}

	return strconv.Itoa(seconds)
}
