package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/andreiashu/geosync"
)

const runHelp = `
Load the cached artifact, then check the remote digest immediately and once
per refresh interval, downloading and publishing the artifact whenever it
changes. Runs until interrupted.
`

func newRunCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "keep the cached artifact up to date until interrupted",
		Long:  runHelp,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			r, err := geosync.New(s.Config, geosync.NewResource(), geosync.WithLogger(logger.WithField("component", "geosync")))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.WithFields(logrus.Fields{
				"path":     r.Path(),
				"url":      s.ArtifactURL,
				"interval": s.RefreshInterval,
			}).Info("Starting refresher")
			if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.WithField("stats", r.Stats()).Info("Stopped refresher")
			return nil
		},
	}
}
