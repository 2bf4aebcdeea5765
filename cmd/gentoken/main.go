// Command gentoken mints a bearer token for the transcoder API, signed with
// the configured AUTH_SECRET.
package main

import (
	"fmt"
	"os"
	"time"

	"mediatranscoder/api"
	"mediatranscoder/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var subject string
	var expires time.Duration
	var secret string

	cmd := &cobra.Command{
		Use:           "gentoken",
		Short:         "Generate an API token for the transcoder",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("load configuration: %w", err)
				}
				secret = cfg.AuthSecret
			}
			token, err := api.IssueToken(secret, subject, expires, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "user_id", "Token subject")
	cmd.Flags().DurationVar(&expires, "expires", 365*24*time.Hour, "Token lifetime")
	cmd.Flags().StringVar(&secret, "secret", "", "Signing secret (defaults to AUTH_SECRET from the configuration)")
	return cmd
}
