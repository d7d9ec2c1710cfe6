package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tejusbharadwaj/hydrolink/internal/hydrolink"
)

func newReadCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Fetch the meters once and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appConfig, logger, err := loadConfig(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			creds, opts := accountOptions(appConfig, logger, nil)
			account, err := hydrolink.Initialize(cmd.Context(), creds, opts)
			if err != nil {
				return err
			}
			defer account.Shutdown(context.Background())

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(account.ListDeviceViews())
		},
	}
}
