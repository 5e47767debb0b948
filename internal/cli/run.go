package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Strata/pkg/report"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Out string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <fixture.yaml>",
		Short: "Run a fixture and print its report",
		Long: `Deploy the fixture's programs, apply its genesis state and run every case
as its own block. The report is written as YAML.

Example:
  strata run ./testdata/transfer.yaml
  strata run --data-dir /tmp/strata --out report.yaml ./testdata/transfer.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runFixture(ctx, opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the report to a file instead of stdout")

	return cmd
}

func runFixture(ctx context.Context, opts *RunOptions, path string, cmd *cobra.Command) (err error) {
	fixture, err := report.LoadFixture(path)
	if err != nil {
		return err
	}

	state, blocks, err := opts.openStores()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeStores(state, blocks); cerr != nil {
			err = multierror.Append(err, cerr)
		}
	}()

	runner, err := report.NewRunner(fixture, state, blocks, opts.config.Runner)
	if err != nil {
		return err
	}
	opts.log.Info().Str("fixture", path).Int("cases", len(fixture.Cases)).Msg("running fixture")
	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	opts.compact(state)

	out, err := rep.Marshal()
	if err != nil {
		return err
	}
	if opts.Out != "" {
		return os.WriteFile(opts.Out, out, 0644)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
