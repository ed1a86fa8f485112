package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validConfig() Gateway {
	cfg := Default()
	cfg.MarketDataFronts = []string{"tcp://180.168.146.187:10131"}
	cfg.TraderFronts = []string{"tcp://180.168.146.187:10130"}
	cfg.Credentials = Credentials{
		BrokerID: "9999",
		UserID:   "123456",
		Password: "secret",
		AppID:    "client_demo_1.0",
		AuthCode: "0000000000000000",
	}
	return cfg
}

func TestDefaultValuesMatchPolicy(t *testing.T) {
	cfg := Default()
	require.Equal(t, 30*time.Second, cfg.Query.Timeout)
	require.Equal(t, 60*time.Second, cfg.Query.AccountTTL)
	require.Equal(t, 300*time.Second, cfg.Query.OrdersTTL)
	require.Equal(t, 3, cfg.Subscription.MaxAttempts)
	require.Equal(t, 10, cfg.Reconnect.MaxAttempts)
}

func TestValidateRejectsMissingFronts(t *testing.T) {
	cfg := validConfig()
	cfg.MarketDataFronts = nil
	cfg.TraderFronts = nil
	require.ErrorContains(t, cfg.Validate(), "front address")
}

func TestValidateRejectsBadReconnectPolicy(t *testing.T) {
	cfg := validConfig()
	cfg.Reconnect.Multiplier = 0.5
	require.ErrorContains(t, cfg.Validate(), "multiplier")

	cfg = validConfig()
	cfg.Reconnect.MaxInterval = cfg.Reconnect.InitialInterval / 2
	require.ErrorContains(t, cfg.Validate(), "max_interval")
}

func TestLoadAppliesYAMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	body := `
market_data_fronts: ["tcp://md.example:10131"]
trader_fronts: ["tcp://td.example:10130"]
credentials:
  broker_id: "9999"
  user_id: "777"
  password: "pw"
reconnect:
  initial_interval: 500ms
  multiplier: 1.5
  max_interval: 10s
  max_attempts: 4
query:
  timeout: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"tcp://md.example:10131"}, cfg.MarketDataFronts)
	require.Equal(t, "777", cfg.Credentials.UserID)
	require.Equal(t, 500*time.Millisecond, cfg.Reconnect.InitialInterval)
	require.Equal(t, 4, cfg.Reconnect.MaxAttempts)
	require.Equal(t, 5*time.Second, cfg.Query.Timeout)
	// untouched sections keep defaults
	require.Equal(t, 60*time.Second, cfg.Query.AccountTTL)
	require.NoError(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CTPGATE_MD_FRONTS", "tcp://a:1, tcp://b:2")
	t.Setenv("CTPGATE_BROKER_ID", "8888")
	t.Setenv("CTPGATE_RECONNECT_MAX_ATTEMPTS", "2")

	cfg := FromEnv()
	require.Equal(t, []string{"tcp://a:1", "tcp://b:2"}, cfg.MarketDataFronts)
	require.Equal(t, "8888", cfg.Credentials.BrokerID)
	require.Equal(t, 2, cfg.Reconnect.MaxAttempts)
}
