package config

// FunnelConfig is the top-level configuration structure for funnel.
type FunnelConfig struct {
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Upstreams  []UpstreamConfig `yaml:"upstreams,omitempty"`
	Tokens     TokenConfig      `yaml:"tokens,omitempty"`
}

const (
	// TransportStreamableHTTP is the streamable HTTP transport.
	TransportStreamableHTTP = "streamable-http"
	// TransportSSE is the Server-Sent Events transport.
	TransportSSE = "sse"
	// TransportWebSocket is the WebSocket transport.
	TransportWebSocket = "websocket"
)

// AggregatorConfig defines the configuration for the aggregator endpoint.
type AggregatorConfig struct {
	Port       int    `yaml:"port,omitempty"`       // Port for the aggregator endpoint (default: 8090)
	Host       string `yaml:"host,omitempty"`       // Host to bind to (default: localhost)
	Transport  string `yaml:"transport,omitempty"`  // Transport to serve (default: streamable-http)
	ToolPrefix string `yaml:"toolPrefix,omitempty"` // Prefix for all aggregated tools (default: "x")
	Yolo       bool   `yaml:"yolo,omitempty"`       // Disable the destructive-tool denylist
}

// UpstreamConfig describes one upstream MCP server funnel connects to.
type UpstreamConfig struct {
	Name      string      `yaml:"name"`
	URL       string      `yaml:"url"`
	Transport string      `yaml:"transport,omitempty"` // default: streamable-http
	Timeout   int         `yaml:"timeout,omitempty"`   // per-request timeout in seconds
	Auth      *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig describes how funnel authenticates against one upstream.
// Secrets are referenced by environment variable name, never stored inline.
type AuthConfig struct {
	GrantType    string `yaml:"grantType,omitempty"` // client_credentials (default) or authorization_code
	TokenURL     string `yaml:"tokenUrl"`
	AuthzURL     string `yaml:"authorizationUrl,omitempty"` // authorization_code only
	RedirectURI  string `yaml:"redirectUri,omitempty"`      // authorization_code only
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecretEnv,omitempty"` // env var holding the secret
	Scope        string `yaml:"scope,omitempty"`
	Audience     string `yaml:"audience,omitempty"`
}

// TokenConfig controls token persistence.
type TokenConfig struct {
	// Backend selects the storage backend: memory, file, encrypted, or bolt.
	Backend string `yaml:"backend,omitempty"`

	// Dir is the token storage directory (default: ~/.config/funnel/tokens).
	Dir string `yaml:"dir,omitempty"`

	// PassphraseEnv names the env var holding the encryption passphrase for
	// the encrypted backend.
	PassphraseEnv string `yaml:"passphraseEnv,omitempty"`
}

// GetDefaultConfig returns the default configuration for funnel.
func GetDefaultConfig() FunnelConfig {
	return FunnelConfig{
		Aggregator: AggregatorConfig{
			Port:       8090,
			Host:       "localhost",
			Transport:  TransportStreamableHTTP,
			ToolPrefix: "x",
		},
		Tokens: TokenConfig{
			Backend: "file",
		},
	}
}
