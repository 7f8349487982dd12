package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0644))
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	// No config.yaml: defaults apply.
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Aggregator.Host)
	assert.Equal(t, 8090, cfg.Aggregator.Port)
	assert.Equal(t, TransportStreamableHTTP, cfg.Aggregator.Transport)
	assert.Equal(t, "x", cfg.Aggregator.ToolPrefix)
	assert.Equal(t, "file", cfg.Tokens.Backend)
	assert.False(t, cfg.Aggregator.Yolo)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := writeConfig(t, `
aggregator:
  host: 0.0.0.0
  port: 9000
  transport: sse
upstreams:
  - name: github
    url: https://mcp.github.example.com/mcp
    transport: streamable-http
    auth:
      tokenUrl: https://auth.example.com/token
      clientId: funnel-client
      clientSecretEnv: GITHUB_MCP_SECRET
      scope: repo
tokens:
  backend: bolt
`)

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Aggregator.Host)
	assert.Equal(t, 9000, cfg.Aggregator.Port)
	assert.Equal(t, TransportSSE, cfg.Aggregator.Transport)
	assert.Equal(t, "bolt", cfg.Tokens.Backend)

	require.Len(t, cfg.Upstreams, 1)
	up := cfg.Upstreams[0]
	assert.Equal(t, "github", up.Name)
	require.NotNil(t, up.Auth)
	assert.Equal(t, "https://auth.example.com/token", up.Auth.TokenURL)
	assert.Equal(t, "GITHUB_MCP_SECRET", up.Auth.ClientSecret)

	require.NoError(t, Validate(cfg))
}

func TestLoadConfigMalformed(t *testing.T) {
	dir := writeConfig(t, "aggregator: [not a map")
	_, err := LoadConfig(dir)
	assert.Error(t, err)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("FUNNEL_HOST", "0.0.0.0")
	t.Setenv("FUNNEL_PORT", "7070")
	t.Setenv("FUNNEL_TOKEN_BACKEND", "memory")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Aggregator.Host)
	assert.Equal(t, 7070, cfg.Aggregator.Port)
	assert.Equal(t, "memory", cfg.Tokens.Backend)
}

func TestValidate(t *testing.T) {
	base := GetDefaultConfig()

	valid := base
	valid.Upstreams = []UpstreamConfig{{Name: "a", URL: "https://a.example.com"}}
	assert.NoError(t, Validate(valid))

	missingName := base
	missingName.Upstreams = []UpstreamConfig{{URL: "https://a.example.com"}}
	assert.Error(t, Validate(missingName))

	duplicate := base
	duplicate.Upstreams = []UpstreamConfig{
		{Name: "a", URL: "https://a.example.com"},
		{Name: "a", URL: "https://b.example.com"},
	}
	assert.Error(t, Validate(duplicate))

	missingURL := base
	missingURL.Upstreams = []UpstreamConfig{{Name: "a"}}
	assert.Error(t, Validate(missingURL))

	badTransport := base
	badTransport.Upstreams = []UpstreamConfig{{Name: "a", URL: "https://a.example.com", Transport: "carrier-pigeon"}}
	assert.Error(t, Validate(badTransport))

	authMissingToken := base
	authMissingToken.Upstreams = []UpstreamConfig{{
		Name: "a", URL: "https://a.example.com",
		Auth: &AuthConfig{ClientID: "c"},
	}}
	assert.Error(t, Validate(authMissingToken))

	codeFlowMissingAuthz := base
	codeFlowMissingAuthz.Upstreams = []UpstreamConfig{{
		Name: "a", URL: "https://a.example.com",
		Auth: &AuthConfig{GrantType: "authorization_code", TokenURL: "https://t", ClientID: "c"},
	}}
	assert.Error(t, Validate(codeFlowMissingAuthz))
}
