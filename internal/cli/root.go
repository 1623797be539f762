// Package cli holds the commands of pipectl, the operator tool inspecting and maintaining the
// checkpoints of pipeline executions.
package cli

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/askiada/go-orchestrator/pkg/config"
)

type rootOptions struct {
	cfgFile string
	output  string
	v       *viper.Viper
}

// NewRootCmd returns the pipectl command.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}
	cmd := &cobra.Command{
		Use:           "pipectl",
		Short:         "inspect and maintain pipeline checkpoints",
		Long:          `pipectl lists the resumable executions of the configured checkpoint store, shows their history, claims them and removes expired checkpoints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch opts.output {
			case outputTable, outputJSON, outputYAML:
			default:
				return errors.Errorf("unknown output %q", opts.output)
			}

			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (default is ./orchestrator.yaml)")
	flags.StringVarP(&opts.output, "output", "o", outputTable, "output format: table, json or yaml")
	flags.String("backend", "", "checkpoint backend: memory, redis, sql or nats")
	if err := opts.v.BindPFlag("checkpoint.backend", flags.Lookup("backend")); err != nil {
		panic(err)
	}

	cmd.AddCommand(
		newResumableCmd(opts),
		newHistoryCmd(opts),
		newClaimCmd(opts),
		newDeleteCmd(opts),
		newCleanupCmd(opts),
	)

	return cmd
}

// load reads the configuration. Flags override the file and the environment.
func (o *rootOptions) load() (*config.Config, error) {
	cfgFile := o.cfgFile
	if cfgFile == "" {
		cfgFile = "orchestrator.yaml"
	}
	o.v.SetConfigFile(cfgFile)
	if err := o.v.ReadInConfig(); err != nil && !missing(err) {
		return nil, errors.Wrapf(err, "unable to read config file %s", cfgFile)
	}

	return config.FromViper(o.v)
}

// openStore loads the configuration and opens its checkpoint store.
func (o *rootOptions) openStore(ctx context.Context) (*config.Config, *config.Store, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	s, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	return cfg, s, nil
}

// Execute runs pipectl with the command line arguments.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
