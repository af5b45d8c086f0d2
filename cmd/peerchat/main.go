package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dragodark/peerchat/internal/api"
	"github.com/dragodark/peerchat/internal/app"
	"github.com/dragodark/peerchat/internal/config"
	"github.com/dragodark/peerchat/internal/log"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "peerchat",
		Short:         "peerchat relay server and console client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	root.AddCommand(relayCmd(&configPath), clientCmd(&configPath), registerCmd(&configPath))
	return root
}

func registerCmd(configPath *string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "create an account on the relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configPath)
			if err != nil {
				return err
			}
			if username == "" || password == "" {
				return fmt.Errorf("both --user and --pass are required")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := api.New(cfg.Client.ServerURL)
			if _, err := client.Register(ctx, username, password, ""); err != nil {
				return fmt.Errorf("register: %w", err)
			}
			logger.Info().Str("username", username).Msg("account created")
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "username to register")
	cmd.Flags().StringVarP(&password, "pass", "p", "", "password")
	return cmd
}

func relayCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(&cfg.Relay, logger)
			if err != nil {
				return fmt.Errorf("init relay: %w", err)
			}

			logger.Info().Str("addr", cfg.Relay.Addr).Msg("starting relay")
			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("relay stopped: %w", err)
			}
			logger.Info().Msg("relay stopped")
			return nil
		},
	}
}

func clientCmd(configPath *string) *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "client",
		Short: "run the console client",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configPath)
			if err != nil {
				return err
			}
			if username != "" {
				cfg.Client.Username = username
			}
			if password != "" {
				cfg.Client.Password = password
			}
			if cfg.Client.Username == "" {
				return fmt.Errorf("no username configured, pass --user or set client.username")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client := app.NewClient(&cfg.Client, logger, os.Stdin, os.Stdout)
			return client.Run(ctx)
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "username, overrides config")
	cmd.Flags().StringVarP(&password, "pass", "p", "", "password, overrides config")
	return cmd
}

func load(configPath string) (config.Config, *zerolog.Logger, error) {
	bootstrap := log.New("info")
	cfg, path, err := config.Load(bootstrap, configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.NewWithFile(cfg.LogLevel, cfg.LogFile)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, nil
}
