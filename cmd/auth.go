package cmd

import (
	"bufio"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"funnel/internal/cli"
	"funnel/internal/config"
	"funnel/internal/oauth"
	"funnel/internal/tokenstore"
	"funnel/pkg/logging"
)

// newAuthCmd creates the auth command group: login, status, logout.
func newAuthCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage upstream authentication",
	}
	cmd.PersistentFlags().StringVar(&configPath, "config-path", "", "Configuration directory (default: ~/.config/funnel)")

	cmd.AddCommand(newAuthLoginCmd(&configPath))
	cmd.AddCommand(newAuthStatusCmd(&configPath))
	cmd.AddCommand(newAuthLogoutCmd(&configPath))

	return cmd
}

// loadAuthContext loads configuration and opens the token store factory.
func loadAuthContext(configPath string) (config.FunnelConfig, *tokenstore.Factory, error) {
	if configPath == "" {
		configPath = config.GetDefaultConfigPathOrPanic()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return config.FunnelConfig{}, nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return config.FunnelConfig{}, nil, err
	}

	factory, err := tokenstore.NewFactory(
		cfg.Tokens.Backend,
		cfg.Tokens.Dir,
		os.Getenv(cfg.Tokens.PassphraseEnv),
	)
	if err != nil {
		return config.FunnelConfig{}, nil, err
	}

	return cfg, factory, nil
}

// findUpstream locates one configured upstream by name.
func findUpstream(cfg config.FunnelConfig, name string) (config.UpstreamConfig, error) {
	for _, up := range cfg.Upstreams {
		if up.Name == name {
			return up, nil
		}
	}
	return config.UpstreamConfig{}, fmt.Errorf("upstream %q is not configured", name)
}

func newAuthLoginCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "login <upstream>",
		Short: "Acquire and store a token for an upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, factory, err := loadAuthContext(*configPath)
			if err != nil {
				return err
			}
			defer factory.Close()

			upCfg, err := findUpstream(cfg, args[0])
			if err != nil {
				return err
			}
			if upCfg.Auth == nil {
				return fmt.Errorf("upstream %q has no auth configuration", upCfg.Name)
			}

			store, err := factory.StoreFor(upCfg.URL)
			if err != nil {
				return err
			}

			switch upCfg.Auth.GrantType {
			case "", "client_credentials":
				err = loginClientCredentials(cmd, upCfg, store)
			case "authorization_code":
				err = loginAuthorizationCode(cmd, upCfg, store)
			default:
				return fmt.Errorf("unknown grantType %q", upCfg.Auth.GrantType)
			}
			if err != nil {
				return &cli.AuthFailedError{Upstream: upCfg.Name, Err: err}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged in to %s\n", upCfg.Name)
			return nil
		},
	}
}

// loginClientCredentials acquires a token non-interactively.
func loginClientCredentials(cmd *cobra.Command, upCfg config.UpstreamConfig, store tokenstore.Store) error {
	source, err := oauth.NewClientCredentialsSource(oauth.ClientCredentialsConfig{
		TokenURL:     upCfg.Auth.TokenURL,
		ClientID:     upCfg.Auth.ClientID,
		ClientSecret: os.Getenv(upCfg.Auth.ClientSecret),
		Scope:        upCfg.Auth.Scope,
		Audience:     upCfg.Auth.Audience,
	})
	if err != nil {
		return err
	}

	manager := oauth.NewManager(oauth.ManagerConfig{Source: source, Store: store})
	defer manager.Close()

	_, err = manager.Refresh(cmd.Context())
	return err
}

// loginAuthorizationCode runs the interactive authorization-code + PKCE
// flow: the user opens the printed URL in a browser and pastes the redirect
// URL (or just its code and state) back.
func loginAuthorizationCode(cmd *cobra.Command, upCfg config.UpstreamConfig, store tokenstore.Store) error {
	provider, err := oauth.NewFlowProvider(oauth.FlowConfig{
		AuthorizationEndpoint: upCfg.Auth.AuthzURL,
		TokenURL:              upCfg.Auth.TokenURL,
		ClientID:              upCfg.Auth.ClientID,
		ClientSecret:          os.Getenv(upCfg.Auth.ClientSecret),
		RedirectURI:           upCfg.Auth.RedirectURI,
		Scope:                 upCfg.Auth.Scope,
	})
	if err != nil {
		return err
	}

	authURL, state, err := provider.AuthorizationURL()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Open this URL in your browser:\n\n  %s\n\n", authURL)
	fmt.Fprint(out, "Paste the full redirect URL (or the authorization code) here: ")

	reader := bufio.NewReader(cmd.InOrStdin())
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("failed to read callback input: %w", err)
	}

	code, callbackState := parseCallbackInput(strings.TrimSpace(line))
	if callbackState == "" {
		callbackState = state
	}

	token, err := provider.CompleteFlow(cmd.Context(), callbackState, code)
	if err != nil {
		return err
	}

	if err := store.Store(token); err != nil {
		return err
	}
	logging.Info("Auth", "Stored token for %s", upCfg.Name)
	return nil
}

// parseCallbackInput accepts either a full redirect URL or a bare code.
func parseCallbackInput(input string) (code, state string) {
	if u, err := url.Parse(input); err == nil && u.RawQuery != "" {
		q := u.Query()
		return q.Get("code"), q.Get("state")
	}
	return input, ""
}

func newAuthStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show token status for every configured upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, factory, err := loadAuthContext(*configPath)
			if err != nil {
				return err
			}
			defer factory.Close()

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Upstream", "Grant", "Token", "Expires"})

			for _, up := range cfg.Upstreams {
				if up.Auth == nil {
					t.AppendRow(table.Row{up.Name, "none", "-", "-"})
					continue
				}

				grant := up.Auth.GrantType
				if grant == "" {
					grant = "client_credentials"
				}

				store, err := factory.StoreFor(up.URL)
				if err != nil {
					t.AppendRow(table.Row{up.Name, grant, "error", err.Error()})
					continue
				}

				token := store.Retrieve()
				switch {
				case token == nil:
					t.AppendRow(table.Row{up.Name, grant, "missing", "-"})
				case !token.ToOAuth2Token().Valid():
					t.AppendRow(table.Row{up.Name, grant, "expired", token.ExpiresAt.Format(time.RFC3339)})
				default:
					expires := "never"
					if !token.ExpiresAt.IsZero() {
						expires = token.ExpiresAt.Format(time.RFC3339)
					}
					t.AppendRow(table.Row{up.Name, grant, "valid", expires})
				}
			}

			t.Render()
			return nil
		},
	}
}

func newAuthLogoutCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logout <upstream>",
		Short: "Remove the stored token for an upstream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, factory, err := loadAuthContext(*configPath)
			if err != nil {
				return err
			}
			defer factory.Close()

			upCfg, err := findUpstream(cfg, args[0])
			if err != nil {
				return err
			}

			store, err := factory.StoreFor(upCfg.URL)
			if err != nil {
				return err
			}
			if err := store.Clear(); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Logged out of %s\n", upCfg.Name)
			return nil
		},
	}
}
