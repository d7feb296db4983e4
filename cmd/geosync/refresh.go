package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/andreiashu/geosync"
	"github.com/andreiashu/geosync/internal/digest"
)

func newRefreshCmd(g *globalOptions, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "run a single refresh cycle and exit",
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
			if err := os.MkdirAll(s.CacheDir, 0755); err != nil {
				return errors.Wrap(err, "creating cache directory")
			}

			outcome, err := r.Refresh(cmd.Context())
			fmt.Fprintf(out, "%s: %s\n", r.Path(), outcome)
			return err
		},
	}
}

func newCheckCmd(g *globalOptions, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "compare the cached artifact with the remote digest without downloading",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, logger, err := g.load(cmd)
			if err != nil {
				return err
			}
			if err := s.Validate(); err != nil {
				return err
			}
			alg, err := digest.ParseAlgorithm(s.DigestAlgorithm)
			if err != nil {
				return err
			}

			c := &digest.Comparator{
				Client:    geosync.NewHTTPClient(s.Config, logger),
				URL:       s.DigestURL,
				Algorithm: alg,
				Timeout:   s.DigestTimeout,
				Logger:    logger.WithField("component", "digest"),
			}
			res, err := c.Compare(cmd.Context(), s.Path())
			if err != nil {
				return err
			}

			local := res.Local
			if local == "" {
				local = "(missing)"
			} else if fi, err := os.Stat(s.Path()); err == nil {
				local = fmt.Sprintf("%s (%s, modified %s)", local, humanize.Bytes(uint64(fi.Size())), humanize.Time(fi.ModTime()))
			}
			fmt.Fprintf(out, "local:  %s\nremote: %s\nchanged: %t\n", local, res.Remote, res.Different)
			return nil
		},
	}
}
