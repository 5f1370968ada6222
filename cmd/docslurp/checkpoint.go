package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chtzvt/docslurp/cmd/docslurp/config"
	"github.com/chtzvt/docslurp/internal/blob"
	"github.com/chtzvt/docslurp/internal/checkpoint"
	"github.com/chtzvt/docslurp/internal/job"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or overwrite the stored export checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, store, closeFn, err := openCheckpointFromConfig()
		if err != nil {
			return err
		}
		defer closeFn()

		cp, err := store.Load(cmdContext())
		if err != nil {
			return err
		}
		printCheckpointTable(os.Stdout, cfg, cp)
		return nil
	},
}

var (
	setCursor    string
	setProcessed int64
)

var checkpointSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Overwrite the stored checkpoint (operator recovery)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cp, err := parseCheckpoint(setCursor, setProcessed)
		if err != nil {
			return err
		}
		cfg, store, closeFn, err := openCheckpointFromConfig()
		if err != nil {
			return err
		}
		defer closeFn()

		if err := store.Save(cmdContext(), cp); err != nil {
			return err
		}
		printCheckpointTable(os.Stdout, cfg, cp)
		return nil
	},
}

func init() {
	checkpointSetCmd.Flags().StringVar(&setCursor, "cursor", "", "ordering key of the last exported document (RFC 3339)")
	checkpointSetCmd.Flags().Int64Var(&setProcessed, "processed", 0, "documents processed so far")
	checkpointSetCmd.MarkFlagRequired("cursor")

	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointSetCmd)
}

func parseCheckpoint(cursor string, processed int64) (checkpoint.Checkpoint, error) {
	ts, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return checkpoint.Checkpoint{}, fmt.Errorf("--cursor: %w", err)
	}
	if processed < 0 {
		return checkpoint.Checkpoint{}, fmt.Errorf("--processed must not be negative")
	}
	return checkpoint.Checkpoint{Cursor: ts.UTC(), Processed: processed}, nil
}

func openCheckpointFromConfig() (*config.Config, checkpoint.Store, func() error, error) {
	cfg, err := config.Read(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := newLogger(config.LogConfig{Level: "warn", Format: cfg.Log.Format})
	if err != nil {
		return nil, nil, nil, err
	}
	spec := &cfg.Export
	if spec.Namespace() == "" {
		return nil, nil, nil, fmt.Errorf("output.namespace (or source.database/collection) must be set")
	}

	var blobs blob.Store
	if spec.Checkpoint.Store != job.CheckpointEtcd {
		blobs, err = blob.Open(spec.Output.Store, spec.Output.StoreOptions)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	store, closeFn, err := openCheckpoints(spec, blobs, logger)
	if err != nil {
		logger.Error("opening checkpoint store", zap.Error(err))
		return nil, nil, nil, err
	}
	return cfg, store, closeFn, nil
}

func printCheckpointTable(w io.Writer, cfg *config.Config, cp checkpoint.Checkpoint) {
	status, cursor := "stored", "-"
	if cp.IsZero() {
		status = "none"
	}
	if cp.HasCursor() {
		cursor = cp.Cursor.Format(time.RFC3339Nano)
	}
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Namespace", cfg.Export.Namespace()})
	table.Append([]string{"Store", cfg.Export.Checkpoint.Store})
	table.Append([]string{"Status", status})
	table.Append([]string{"Cursor", cursor})
	table.Append([]string{"Processed", strconv.FormatInt(cp.Processed, 10)})
	table.Render()
}
