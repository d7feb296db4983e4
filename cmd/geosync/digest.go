package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/andreiashu/geosync/internal/digest"
)

func newDigestCmd(g *globalOptions, out io.Writer) *cobra.Command {
	var algorithm string

	cmd := &cobra.Command{
		Use:   "digest FILE...",
		Short: "print the digest of local files in sha256sum format",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("algorithm") {
				s, _, err := g.load(cmd)
				if err != nil {
					return err
				}
				algorithm = s.DigestAlgorithm
			}
			alg, err := digest.ParseAlgorithm(algorithm)
			if err != nil {
				return err
			}
			for _, path := range args {
				sum, err := digest.File(path, alg)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s  %s\n", sum, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&algorithm, "algorithm", "", "digest algorithm, sha256 or blake3 (default: digest_algorithm from config)")
	return cmd
}
