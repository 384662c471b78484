// Package main merges session recordings into one, interleaving their
// entries by time.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/digitalcircuit/remote-haptics/internal/cli"
	"github.com/digitalcircuit/remote-haptics/internal/recording"
)

type options struct {
	cli.Flags
	force          bool
	includeBackups bool
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:   "merge-recordings <merged.rec> <recording.rec>...",
		Short: "Merge haptics session recordings",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &opts)
		},
	}
	opts.Bind(cmd)
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "overwrite the output file when it exists")
	cmd.Flags().BoolVarP(&opts.includeBackups, "include-backups", "i", false, "don't exclude backup files (files ending in '~')")
	cli.Execute(cmd)
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	_, log, err := opts.Setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	output := args[0]
	if _, err := os.Stat(output); err == nil && !opts.force {
		return fmt.Errorf("output file %s exists, use --force to overwrite", output)
	}
	inputs := recording.FilterInputs(args[1:], opts.includeBackups)
	if skipped := len(args) - 1 - len(inputs); skipped > 0 {
		log.Info("skipping backup files", zap.Int("count", skipped))
	}

	stats, err := recording.MergeFiles(output, inputs, opts.force)
	if errors.Is(err, recording.ErrNoRecordings) {
		return fmt.Errorf("%w (backup files are excluded without --include-backups)", err)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.TitleStyle.Render("Merged "+output))
	fmt.Fprintln(out, cli.StatusStyle.Render(fmt.Sprintf("%d recordings, %d entries, %gs", stats.Inputs, stats.Entries, stats.Duration)))
	return nil
}
