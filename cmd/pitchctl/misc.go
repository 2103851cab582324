package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pitchroom/pitchroom/internal/app"
	"github.com/pitchroom/pitchroom/internal/auth"
)

func newTokenCmd(c *cli) *cobra.Command {
	var validity time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token with AUTH_SIGNING_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			signer, err := auth.NewSigner(c.cfg.AuthSigningKey, c.user, validity)
			if err != nil {
				return fmt.Errorf("%w (set AUTH_SIGNING_KEY)", err)
			}
			tok, err := signer.Sign(c.user, c.cfg.AuthTokenTemplate)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().DurationVar(&validity, "valid-for", time.Hour, "token lifetime")
	return cmd
}

func newPersonasCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the investor personas",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			catalog, err := app.LoadPersonas(c.cfg)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, p := range catalog.List() {
				marker := ""
				if p.Key == catalog.DefaultKey() {
					marker = "*"
				}
				fmt.Fprintf(tw, "%s%s\t%s\t%s\t%s\n", p.Key, marker, p.Name, p.Title, p.Focus)
			}
			return tw.Flush()
		},
	}
}
