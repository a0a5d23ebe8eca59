package main

import (
	"fmt"
	"queuectl/internal/service"

	"github.com/spf13/cobra"
)

func configCmd(a *app) *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Read and change queue settings (max-retries, backoff-base)",
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.jobService.SetConfig(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], args[1])
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print a config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := a.jobService.GetConfig(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print every config value",
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := a.jobService.ListConfig(cmd.Context())
			if err != nil {
				return err
			}
			for _, key := range service.KnownConfigKeys {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, values[key])
			}
			return nil
		},
	}

	cfg.AddCommand(set, get, show)
	return cfg
}
