package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/spf13/cobra"

	"github.com/atlasapi/atlas-deer-sub000/pkg/deer/config"
)

type commandContext struct {
	envFile *string
	options []config.Option

	once sync.Once
	deer *config.Deer
	err  error
}

func (c *commandContext) ensureDeer(ctx context.Context) (*config.Deer, error) {
	c.once.Do(func() {
		opts := []config.Option{config.WithDotEnv(*c.envFile), config.WithEnv()}
		opts = append(opts, c.options...)
		cfg, err := config.Load(opts...)
		if err != nil {
			c.err = err
			return
		}
		c.deer, c.err = cfg.Build(ctx)
	})
	return c.deer, c.err
}

func (c *commandContext) close() error {
	if c.deer == nil {
		return nil
	}
	d := c.deer
	c.deer = nil
	return d.Close()
}

// closing releases storage once the command returns, whether or not it failed.
func (c *commandContext) closing(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if cerr := c.close(); err == nil {
			err = cerr
		}
		return err
	}
}

func newRootCommand(opts ...config.Option) *cobra.Command {
	var envFile string
	ctx := &commandContext{envFile: &envFile, options: opts}

	rootCmd := &cobra.Command{
		Use:           "deer",
		Short:         "Write content and equivalences into the deer store",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with DEER_* variables")

	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newWriteCommand(ctx))
	rootCmd.AddCommand(newWriteBroadcastCommand(ctx))
	rootCmd.AddCommand(newUpdateContentCommand(ctx))
	rootCmd.AddCommand(newUpdateEquivalencesCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))

	for _, sub := range rootCmd.Commands() {
		sub.RunE = ctx.closing(sub.RunE)
	}

	return rootCmd
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
