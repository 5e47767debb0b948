package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Strata/internal/types"
	"github.com/fortiblox/X1-Strata/pkg/rpc"
)

// NewBlockCommand creates the block command.
func NewBlockCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "block <height>",
		Short: "Print a stored block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			height, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			blocks, err := rootOpts.openLedger("block")
			if err != nil {
				return err
			}
			defer blocks.Close()

			b, err := blocks.GetBlock(uint32(height))
			if err != nil {
				return err
			}
			return printYAML(cmd, rpc.NewBlockView(b))
		},
	}
}

// NewTxCommand creates the tx command.
func NewTxCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tx <id>",
		Short: "Print a confirmed transaction",
		Long: `Print a confirmed transaction with its transitions and fee. The id is
base58, or hex with a 0x prefix.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := types.ParseHash(args[0])
			if err != nil {
				return fmt.Errorf("invalid transaction id %q: %w", args[0], err)
			}
			blocks, err := rootOpts.openLedger("tx")
			if err != nil {
				return err
			}
			defer blocks.Close()

			ct, height, err := blocks.GetTransaction(id)
			if err != nil {
				return err
			}
			return printYAML(cmd, rpc.NewTransactionView(ct, height))
		},
	}
}

func printYAML(cmd *cobra.Command, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}
