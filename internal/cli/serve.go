package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Strata/pkg/report"
	"github.com/fortiblox/X1-Strata/pkg/rpc"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr string
	Run  bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve <fixture.yaml>",
		Short: "Serve the ledger and mapping state over JSON-RPC",
		Long: `Deploy the fixture's programs over the configured stores and answer
read-only JSON-RPC queries about blocks, transactions, programs and mapping
state. With --run the fixture's cases are executed first.

Example:
  strata serve --data-dir /tmp/strata ./testdata/transfer.yaml
  curl -s localhost:3030 -d '{"jsonrpc":"2.0","id":1,"method":"getLatestBlock"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serveFixture(ctx, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config, 127.0.0.1:3030)")
	cmd.Flags().BoolVar(&opts.Run, "run", false, "run the fixture's cases before serving")

	return cmd
}

func serveFixture(ctx context.Context, opts *ServeOptions, path string) (err error) {
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
	if opts.Run {
		if _, err := runner.Run(ctx); err != nil {
			return err
		}
		opts.compact(state)
	}

	cfg := opts.config.RPC
	if opts.Addr != "" {
		cfg.Addr = opts.Addr
	}
	return rpc.New(cfg, runner.VM()).Start(ctx)
}
