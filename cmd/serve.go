package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"funnel/internal/aggregator"
	"funnel/internal/cli"
	"funnel/internal/config"
	"funnel/internal/oauth"
	"funnel/internal/tokenstore"
	"funnel/internal/transport"
	"funnel/pkg/logging"
	pkgoauth "funnel/pkg/oauth"
)

// newServeCmd creates the Cobra command that runs the aggregator.
func newServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		yolo       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the aggregator endpoint",
		Long: `Connect to every configured upstream MCP server, authenticate where
configured, and serve their tools behind one aggregated endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			logging.Init(level, os.Stderr)

			if configPath == "" {
				configPath = config.GetDefaultConfigPathOrPanic()
			}
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if yolo {
				cfg.Aggregator.Yolo = true
			}

			return runServe(cmd.Context(), cfg, GetVersion())
		},
	}

	cmd.Flags().StringVar(&configPath, "config-path", "", "Configuration directory (default: ~/.config/funnel)")
	cmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	cmd.Flags().BoolVar(&yolo, "yolo", false, "Allow destructive tools")

	return cmd
}

// runServe wires the token, auth, and transport stacks and serves until a
// termination signal arrives.
func runServe(ctx context.Context, cfg config.FunnelConfig, version string) error {
	factory, err := tokenstore.NewFactory(
		cfg.Tokens.Backend,
		cfg.Tokens.Dir,
		os.Getenv(cfg.Tokens.PassphraseEnv),
	)
	if err != nil {
		return err
	}
	defer factory.Close()

	srv := aggregator.NewServer(cfg.Aggregator, version)
	managers := make([]*oauth.Manager, 0, len(cfg.Upstreams))
	defer func() {
		for _, m := range managers {
			m.Close()
		}
	}()

	// A token file watcher lets externally completed logins feed running
	// file-backed upstreams without a restart.
	var watcher *tokenstore.Watcher
	if cfg.Tokens.Backend == "" || cfg.Tokens.Backend == tokenstore.BackendFile {
		dir := cfg.Tokens.Dir
		if dir == "" {
			if home, homeErr := os.UserHomeDir(); homeErr == nil {
				dir = filepath.Join(home, pkgoauth.DefaultTokenStorageDir)
			}
		}
		if dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				logging.Warn("Serve", "Could not create token directory %s: %v", dir, err)
			} else if watcher, err = tokenstore.NewWatcher(dir, func(serverURL string) {
				logging.Info("Serve", "Token updated externally for %s", serverURL)
			}); err != nil {
				logging.Warn("Serve", "Token watcher unavailable: %v", err)
				watcher = nil
			} else {
				defer watcher.Close()
			}
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for _, upCfg := range cfg.Upstreams {
		auth, manager, err := buildAuthProvider(upCfg, factory, watcher)
		if err != nil {
			return fmt.Errorf("upstream %s: %w", upCfg.Name, err)
		}
		if manager != nil {
			managers = append(managers, manager)
		}

		up, err := aggregator.NewUpstream(upCfg, auth, nil)
		if err != nil {
			return err
		}
		if err := srv.RegisterUpstream(ctx, up); err != nil {
			if authErr := authRequired(upCfg.Name, err); authErr != nil {
				return authErr
			}
			logging.Error("Serve", err, "Failed to register upstream %s, continuing", upCfg.Name)
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logging.Info("Serve", "Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), oauth.DefaultHTTPTimeout)
		defer cancel()
		return srv.Stop(shutdownCtx)
	}
}

// authRequired maps a registration failure caused by a missing stored token
// to the auth-required CLI error, so serve exits with code 2 and names the
// upstream the user must log in to. Other failures return nil and stay
// non-fatal.
func authRequired(upstream string, err error) error {
	if errors.Is(err, oauth.ErrNoStoredToken) {
		return &cli.AuthRequiredError{Upstream: upstream}
	}
	return nil
}

// buildAuthProvider assembles the auth stack for one upstream: a managed
// client-credentials source, a store-only provider for authorization-code
// upstreams, or nil when the upstream needs no auth.
func buildAuthProvider(upCfg config.UpstreamConfig, factory *tokenstore.Factory, watcher *tokenstore.Watcher) (transport.AuthProvider, *oauth.Manager, error) {
	if upCfg.Auth == nil {
		return nil, nil, nil
	}

	store, err := factory.StoreFor(upCfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if watcher != nil {
		if fs, ok := store.(*tokenstore.FileStore); ok {
			watcher.Register(fs)
		}
	}

	switch upCfg.Auth.GrantType {
	case "", "client_credentials":
		source, err := oauth.NewClientCredentialsSource(oauth.ClientCredentialsConfig{
			TokenURL:     upCfg.Auth.TokenURL,
			ClientID:     upCfg.Auth.ClientID,
			ClientSecret: os.Getenv(upCfg.Auth.ClientSecret),
			Scope:        upCfg.Auth.Scope,
			Audience:     upCfg.Auth.Audience,
		})
		if err != nil {
			return nil, nil, err
		}
		manager := oauth.NewManager(oauth.ManagerConfig{Source: source, Store: store})
		return manager, manager, nil
	case "authorization_code":
		// Tokens arrive through 'funnel auth login'; serve only consumes them.
		return oauth.NewStoreProvider(store), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown grantType %q", upCfg.Auth.GrantType)
	}
}
