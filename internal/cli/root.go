// Package cli implements the strata command line.
package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/fortiblox/X1-Strata/pkg/ledger"
	"github.com/fortiblox/X1-Strata/pkg/mapping"
	"github.com/fortiblox/X1-Strata/pkg/report"
	"github.com/fortiblox/X1-Strata/pkg/rpc"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Config is the strata configuration file.
type Config struct {
	// DataDir holds the mapping state and the ledger. Empty runs in memory.
	DataDir  string `yaml:"data_dir"`
	LogLevel string `yaml:"log_level"`

	Runner report.Config       `yaml:"runner"`
	State  mapping.BadgerConfig `yaml:"state"`
	Blocks ledger.BoltConfig    `yaml:"blocks"`
	RPC    rpc.Config           `yaml:"rpc"`
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Runner:   report.DefaultConfig(),
		State:    mapping.DefaultBadgerConfig(""),
		Blocks:   ledger.DefaultBoltConfig(""),
		RPC:      rpc.DefaultConfig(),
	}
}

// LoadConfig overlays the file at path onto the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// statePath and blocksPath place the stores under the data directory unless
// the config names them.
func (c *Config) statePath() string {
	if c.State.Path != "" {
		return c.State.Path
	}
	return filepath.Join(c.DataDir, "state")
}

func (c *Config) blocksPath() string {
	if c.Blocks.Path != "" {
		return c.Blocks.Path
	}
	return filepath.Join(c.DataDir, "ledger.db")
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	DataDir    string
	LogLevel   string

	config Config
	log    zerolog.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "strata",
		Short: "Strata program VM",
		Long:  "Executes programs, speculates their finalize phase and maintains the resulting ledger.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.DataDir, "data-dir", "", "data directory for state and ledger (empty runs in memory)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewBlockCommand(opts))
	cmd.AddCommand(NewTxCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// setup loads the config file and lets explicitly set flags override it.
func (o *RootOptions) setup(cmd *cobra.Command) error {
	cfg := DefaultConfig()
	if o.ConfigFile != "" {
		var err error
		if cfg, err = LoadConfig(o.ConfigFile); err != nil {
			return err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = o.DataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.LogLevel
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	o.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()
	cfg.Runner.Logger = o.log
	cfg.State.Logger = o.log
	cfg.RPC.Logger = o.log
	cfg.RPC.Version = Version
	o.config = cfg
	return nil
}

// openStores opens the persistent stores under the data directory, or
// memory stores when none is configured.
func (o *RootOptions) openStores() (mapping.Store, ledger.Store, error) {
	if o.config.DataDir == "" && o.config.State.Path == "" {
		return mapping.NewMemoryStore(), ledger.NewMemoryStore(), nil
	}
	sc := o.config.State
	sc.Path = o.config.statePath()
	state, err := mapping.OpenBadger(sc)
	if err != nil {
		return nil, nil, err
	}
	bc := o.config.Blocks
	bc.Path = o.config.blocksPath()
	blocks, err := ledger.OpenBolt(bc)
	if err != nil {
		state.Close()
		return nil, nil, err
	}
	o.log.Debug().Str("state", sc.Path).Str("blocks", bc.Path).Msg("stores opened")
	return state, blocks, nil
}

// closeStores closes both stores and collects every failure.
func closeStores(state mapping.Store, blocks ledger.Store) error {
	var result *multierror.Error
	if err := blocks.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close ledger: %w", err))
	}
	if err := state.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close state: %w", err))
	}
	return result.ErrorOrNil()
}

// compact reclaims value log space after a run. Memory stores have nothing
// to reclaim.
func (o *RootOptions) compact(state mapping.Store) {
	bs, ok := state.(*mapping.BadgerStore)
	if !ok {
		return
	}
	if err := bs.RunGC(); err != nil {
		o.log.Warn().Err(err).Msg("state gc failed")
	}
}

// openLedger opens the configured ledger read-only.
func (o *RootOptions) openLedger(command string) (*ledger.BoltStore, error) {
	if o.config.DataDir == "" && o.config.Blocks.Path == "" {
		return nil, fmt.Errorf("%s requires --data-dir or a configured ledger path", command)
	}
	bc := o.config.Blocks
	bc.Path = o.config.blocksPath()
	bc.ReadOnly = true
	return ledger.OpenBolt(bc)
}

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "strata %s (%s)\n", Version, GitCommit)
		},
	}
}
