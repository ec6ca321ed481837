package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/hawatch/internal/action"
	"github.com/gyaneshwarpardhi/hawatch/internal/config"
	"github.com/gyaneshwarpardhi/hawatch/internal/engine"
	"github.com/gyaneshwarpardhi/hawatch/internal/notify"
)

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and compile every rule without polling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader, err := config.NewLoader(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			cfg := loader.Config()
			if err := config.Validate(cfg); err != nil {
				return err
			}
			logger, err := newLogger(cmd.ErrOrStderr(), cfg.Log, rootOpts)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			webhook := action.NewWebhook(ctx, action.WebhookConf{Workers: 1}, logger)
			defer webhook.Close()
			reg := action.NewRegistry()
			reg.Register(action.NewLog(logger))
			reg.Register(webhook)

			group, err := engine.FromConfig(cfg, reg, notify.NewBus(logger), slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range group.Engines() {
				st := e.State()
				fmt.Fprintf(out, "target %s: %d rules, every %s", e.Target(), e.Rules().Len(), e.Interval())
				if st.TrackedAggregate != "" {
					fmt.Fprintf(out, ", restarts tracked on %s", st.TrackedAggregate)
				}
				fmt.Fprintln(out)
			}
			fmt.Fprintln(out, "config ok")
			return nil
		},
	}
}
