package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/greenbone/nvt-launcher/catalog"
	"github.com/greenbone/nvt-launcher/launcher"
	"github.com/greenbone/nvt-launcher/preferences"
	"github.com/greenbone/nvt-launcher/spawner"
)

// stdoutUpstream writes every forwarded frame to stdout verbatim, prefixed
// with its type; no newline is added after the payload. It stands in for the real upstream
// transport to the scanner driver, which is out of scope for this module.
type stdoutUpstream struct{}

func (stdoutUpstream) Forward(payload []byte, typ launcher.FrameType) error {
	_, err := fmt.Fprintf(os.Stdout, "[frame type=%d] %s", typ, payload)
	return err
}

func newRunCmd() *cobra.Command {
	var (
		host           string
		nonSimultPorts string
		softMax        int
		execDir        string
		oids           []string
		logWholeAttack bool
		snapshotOut    string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch one or more routines against a single host and wait for them to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			prefs := preferences.NewStore()
			prefs.SetNonSimultPorts(nonSimultPorts)
			prefs.SetLogWholeAttack(logWholeAttack)

			cat := catalog.NewMapCatalog()
			for _, oid := range oids {
				cat.Set(oid, catalog.Entry{Category: launcher.CategoryOther})
			}

			sp := &spawner.ExecSpawner{
				Catalog: cat,
				Resolve: func(oid, name string) (string, []string, error) {
					path := filepath.Join(execDir, oid)
					if _, err := os.Stat(path); err != nil {
						return "", nil, fmt.Errorf("resolve %q: %w", oid, err)
					}

					return path, nil, nil
				},
			}

			core := launcher.NewCore(cat, prefs, sp)
			core.Init(host, nonSimultPorts, softMax)

			up := stdoutUpstream{}
			for _, oid := range oids {
				routine := launcher.NewRoutine(oid)
				if _, err := core.Launch(routine, up, nil, nil, oid); err != nil {
					fmt.Fprintf(os.Stderr, "launch %s: %v\n", oid, err)
				}
			}

			core.WaitAll()

			snapshot := core.Snapshot()
			renderStatus(snapshot)

			if snapshotOut != "" {
				if err := writeSnapshot(snapshotOut, snapshot); err != nil {
					return fmt.Errorf("write snapshot: %w", err)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "target host label")
	cmd.Flags().StringVar(&nonSimultPorts, "non-simult-ports", "", "comma-space-separated non-simultaneous port tokens")
	cmd.Flags().IntVar(&softMax, "soft-max", 4, "effective concurrency limit")
	cmd.Flags().StringVar(&execDir, "exec-dir", ".", "directory containing one executable per OID")
	cmd.Flags().StringSliceVar(&oids, "oid", nil, "routine OID to launch (repeatable)")
	cmd.Flags().BoolVar(&logWholeAttack, "log-whole-attack", false, "enable verbose per-routine lifecycle logging")
	cmd.Flags().StringVar(&snapshotOut, "snapshot-out", "", "write the final slot snapshot as JSON to this path, for later `status` rendering")

	_ = cmd.MarkFlagRequired("host")

	return cmd
}

// writeSnapshot records a slot snapshot to disk so a separate `status`
// invocation, potentially run by another operator session, can render it
// without needing a live daemon process to query.
func writeSnapshot(path string, slots []launcher.SlotInfo) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")

	return enc.Encode(slots)
}
