package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/easzlab/eznat66/pkg/config"
	"github.com/easzlab/eznat66/pkg/server"
	"github.com/easzlab/eznat66/pkg/steer"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	version    = "dev"
	configPath string
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "eznat66",
		Short: "eznat66 - stateless NAT66 translator",
		Long:  "A stateless one-to-one IPv6 address translator fed by NFQUEUE, with static mappings and declarative reconcile mode.",
		RunE:  runDaemon,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/eznat66/eznat66.yaml", "path to config file")

	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("config %s is valid: %d interfaces, %d mappings\n",
				configPath, len(cfg.Interfaces), len(cfg.Mappings))
			return nil
		},
	}
}

func newCleanupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Remove the packet steering rules left by a previous run",
		RunE:  runCleanup,
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("eznat66 version %s\n", version)
		},
	}
}

// loadConfig reads and validates the config file without watching it.
func loadConfig() (*config.Config, error) {
	mgr, err := config.NewManager(configPath, zap.NewNop())
	if err != nil {
		return nil, err
	}
	return mgr.GetConfig(), nil
}

// runDaemon starts the server in daemon mode with signal handling.
func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Global)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("starting eznat66",
		zap.String("version", version),
		zap.String("config", configPath),
	)

	srv, err := server.NewServer(configPath, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-signalChan
		logger.Info("received signal", zap.String("signal", sig.String()))
		cancel()
	}()

	return srv.Run(ctx)
}

// runCleanup removes the steering chain after an unclean shutdown.
func runCleanup(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(config.GlobalConfig{})
	if err != nil {
		return err
	}
	defer logger.Sync()

	mgr, err := steer.NewManager(logger.Named("steer"))
	if err != nil {
		return fmt.Errorf("failed to create steering manager: %w", err)
	}
	return mgr.Cleanup()
}
