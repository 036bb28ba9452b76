package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/layerqueue/internal/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		Short:   "Validate and lock the configuration",
		GroupID: "config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigCheckCommand())
	cmd.AddCommand(newConfigLockCommand())
	return cmd
}

func newConfigCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate syntax, values and the lock file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration valid: %s\n", path)
			fmt.Fprintf(out, "  workers: %d, command concurrency: %d, timeout: %s\n",
				cfg.Queue.Workers, cfg.Command.Concurrency, cfg.Command.Timeout)
			ids := make([]string, 0, len(cfg.Layers))
			for id := range cfg.Layers {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(out, "  layer %s -> %s\n", id, cfg.Layers[id].URL)
			}
			return nil
		},
	}
}

func newConfigLockCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "lock",
		Short: "Write the BLAKE3 lock file for the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			if _, err := config.Parse(data); err != nil {
				return fmt.Errorf("refusing to lock invalid configuration: %w", err)
			}
			hash, err := config.WriteLock(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Locked %s (%s)\n", config.LockPath(path), hash)
			return nil
		},
	}
}
