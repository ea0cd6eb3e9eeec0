package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseJson_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	pathFlag := writeTempJSON(t, dir, "flag.json", map[string]any{
		"endpoint_addr_grpc":             "www.example:9000",
		"metrics_addr":                   ":9200",
		"database_dsn":                   "memory://",
		"secret_key":                     "my_secret_key",
		"access_token_validity_duration": "1m",
		"magic_link_lifetime":            "10m",
		"grace_window":                   "15s",
		"used_retention":                 "24h",
		"reaper_interval":                60000000000,
		"reaper_batch_size":              50,
		"store_timeout":                  "3s",
		"hasher":                         "sha256",
		"bcrypt_cost":                    4,
		"secret_bytes":                   48,
		"link_base_url":                  "https://example.com/v",
		"allowed_email_domains":          []string{"Example.COM"},
		"delivery_kind":                  "smtp",
		"smtp_addr":                      "mail.example.com:587",
		"smtp_username":                  "mailer",
		"smtp_password":                  "hunter2",
		"smtp_from":                      "login@example.com",
		"smtp_from_name":                 "Example Login",
		"request_rate_limit":             12,
		"log_level":                      "debug",
	})

	t.Run("loads from json", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", pathFlag}

		cfg := &Config{}
		parseJson(cfg)

		assert.Equal(t, "www.example:9000", cfg.EndpointAddrGRPC)
		assert.Equal(t, ":9200", cfg.MetricsAddr)
		assert.Equal(t, "memory://", cfg.DatabaseDSN)
		assert.Equal(t, "my_secret_key", cfg.SecretKey)
		assert.Equal(t, time.Minute, cfg.AccessTokenValidityDuration)
		assert.Equal(t, 10*time.Minute, cfg.MagicLinkLifetime)
		assert.Equal(t, 15*time.Second, cfg.GraceWindow)
		assert.Equal(t, 24*time.Hour, cfg.UsedRetention)
		assert.Equal(t, time.Minute, cfg.ReaperInterval)
		assert.Equal(t, 50, cfg.ReaperBatchSize)
		assert.Equal(t, 3*time.Second, cfg.StoreTimeout)
		assert.Equal(t, "sha256", cfg.Hasher)
		assert.Equal(t, 4, cfg.BcryptCost)
		assert.Equal(t, 48, cfg.SecretBytes)
		assert.Equal(t, "https://example.com/v", cfg.LinkBaseURL)
		assert.Equal(t, []string{"example.com"}, cfg.AllowedEmailDomains)
		assert.Equal(t, "smtp", cfg.DeliveryKind)
		assert.Equal(t, "mail.example.com:587", cfg.SMTPAddr)
		assert.Equal(t, "mailer", cfg.SMTPUsername)
		assert.Equal(t, "hunter2", cfg.SMTPPassword)
		assert.Equal(t, "login@example.com", cfg.SMTPFrom)
		assert.Equal(t, "Example Login", cfg.SMTPFromName)
		assert.Equal(t, 12, cfg.RequestRateLimit)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("absent keys keep current values", func(t *testing.T) {
		partial := writeTempJSON(t, dir, "partial.json", map[string]any{"grace_window": "10s"})
		os.Args = []string{"testbin", "-c", partial}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, 10*time.Second, cfg.GraceWindow)
		assert.Equal(t, 15*time.Minute, cfg.MagicLinkLifetime)
		assert.Equal(t, ":50051", cfg.EndpointAddrGRPC)
		assert.Equal(t, 5, cfg.RequestRateLimit)
	})

	t.Run("explicit zero disables rate limit", func(t *testing.T) {
		off := writeTempJSON(t, dir, "off.json", map[string]any{"request_rate_limit": 0})
		os.Args = []string{"testbin", "-c", off}

		cfg := &Config{}
		cfg.LoadDefaults()
		parseJson(cfg)

		assert.Equal(t, 0, cfg.RequestRateLimit)
	})

	t.Run("no CONFIG and no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{EndpointAddrGRPC: "defaults:1234", GraceWindow: time.Second}
		parseJson(cfg)

		assert.Equal(t, "defaults:1234", cfg.EndpointAddrGRPC)
		assert.Equal(t, time.Second, cfg.GraceWindow)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))

		os.Args = []string{"testbin", "-config", bad}

		cfg := &Config{}
		require.Panics(t, func() { parseJson(cfg) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "absent.json")}
		require.Panics(t, func() { parseJson(&Config{}) })
	})
}
