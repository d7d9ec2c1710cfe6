// Command hydrolink polls the Hydrolink water-meter API and exposes the
// readings.
//
// Usage:
//
//	hydrolink serve [--config config.yaml]
//	hydrolink read  [--config config.yaml]
//	hydrolink meters [id] [--addr localhost:50051] [--refresh]
//
// serve keeps the meters refreshed on a schedule and exposes the meters and
// their health over gRPC plus Prometheus metrics. read logs in once, prints
// every meter as JSON and exits. meters queries a running serve.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tejusbharadwaj/hydrolink/internal/config"
	"github.com/tejusbharadwaj/hydrolink/internal/hydrolink"
	"github.com/tejusbharadwaj/hydrolink/internal/metrics"
	"github.com/tejusbharadwaj/hydrolink/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "hydrolink",
		Short:        "Poll Hydrolink water meters",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newReadCmd(&configPath),
		newMetersCmd(),
	)
	return rootCmd
}

// loadConfig loads and validates the configuration and builds its logger
func loadConfig(path string) (*config.Config, *logrus.Logger, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		path = ""
	}
	appConfig, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := appConfig.Validate(); err != nil {
		return nil, nil, err
	}
	return appConfig, appConfig.Logging.NewLogger(), nil
}

func accountOptions(appConfig *config.Config, logger *logrus.Logger, collector *metrics.Collector) (models.Credentials, hydrolink.Options) {
	creds := models.Credentials{
		Username: appConfig.Account.Username,
		Password: appConfig.Account.Password,
	}
	opts := hydrolink.Options{
		LoginURL:        appConfig.Account.LoginURL,
		MeterDataURL:    appConfig.Account.MeterDataURL,
		RefreshInterval: appConfig.Account.RefreshInterval,
		HTTPTimeout:     appConfig.Account.HTTPTimeout,
		ViewCacheSize:   appConfig.Cache.ViewCacheSize,
		Logger:          logger,
		Metrics:         collector,
	}
	return creds, opts
}
