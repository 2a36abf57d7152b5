package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/webedt/webedt/internal/config"
	"github.com/webedt/webedt/internal/logger"
	"github.com/webedt/webedt/internal/relay"
	"github.com/webedt/webedt/internal/store"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "webedtd",
		Short:         "WebEDT relay server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	root.AddCommand(serveCmd(&configPath))
	root.AddCommand(userCmd(&configPath))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return cfg, nil
}

func serveCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.Server.Addr = addr
			}
			if db, _ := cmd.Flags().GetString("db"); db != "" {
				cfg.Database.Path = db
			}

			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			srv, err := relay.NewServer(st, cfg)
			if err != nil {
				return fmt.Errorf("init server: %w", err)
			}

			httpSrv := &http.Server{
				Addr:    cfg.Server.Addr,
				Handler: srv,
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Log level follows config file edits without a restart.
			if *configPath != "" {
				go func() {
					err := config.Watch(ctx, *configPath, func(next *config.Config) {
						logger.SetLevel(next.Logging.Level)
					})
					if err != nil && ctx.Err() == nil {
						logger.Warn("config watch stopped", "error", err)
					}
				}()
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("webedtd listening", "addr", cfg.Server.Addr, "worker", cfg.Worker.URL)
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
				return httpSrv.Close()
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	cmd.Flags().String("db", "", "database path (overrides config)")
	return cmd
}

func userCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}

	create := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user, prompting for a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			st, err := store.Open(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			fmt.Fprint(os.Stderr, "Password: ")
			password, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("read password: %w", err)
			}
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}

			u, err := st.CreateUser(args[0], string(password))
			if err != nil {
				return err
			}
			fmt.Printf("created user %s (%s)\n", u.Email, u.ID)
			return nil
		},
	}
	cmd.AddCommand(create)
	return cmd
}
