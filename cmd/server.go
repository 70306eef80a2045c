package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/creasty/defaults"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/granaryml/granary/pkg/server"
)

//nolint:gochecknoglobals // Cobra flags are typically global
var serverCfgFile string

//nolint:gochecknoglobals // Cobra commands are typically global
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the dataset-building API server",
	Long:  `The server exposes the session-scoped dataset pipeline over HTTP.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().StringVar(&serverCfgFile, "config", "config.yaml", "config file (default is config.yaml)")
}

func loadServerConfigFromFile(file string) (*server.Config, error) {
	if file == "" {
		file = "config.yaml"
	}

	config := &server.Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(file) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}

func runServer(cmd *cobra.Command, _ []string) error {
	// Silence usage on error
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true

	config, err := loadServerConfigFromFile(serverCfgFile)
	if err != nil {
		return err
	}

	level, err := logrus.ParseLevel(config.Logging)
	if err != nil {
		return err
	}

	logger.SetLevel(level)
	logger.Info("Configuration loaded")

	app := server.NewApplication(config, logger)
	if err := app.Start(context.Background()); err != nil {
		return err
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	return app.Stop()
}
