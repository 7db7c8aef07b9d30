package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(100), cfg.Economy.StartingGrant)
	assert.Equal(t, int64(0), cfg.Economy.FeeBps("tip"))
	assert.Equal(t, int64(500), cfg.Economy.FeeBps("gift"))
	assert.Equal(t, int64(0), cfg.Economy.TreasuryUserID)
	assert.Equal(t, "economy.trade", cfg.Kafka.Topic.Trade)
	assert.Equal(t, 72*time.Hour, cfg.Trade.Duration)
	assert.NotEmpty(t, cfg.Wealth.Tiers)
}

func TestLoadConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9090
economy:
  starting_grant: 250
  treasury_user_id: -7
  transfer_fee_bps:
    tip: 0
    gift: 250
marketplace:
  offer_duration: 1h
wealth:
  tiers:
    - level: 0
      min_credits: 0
      name: Zero
    - level: 1
      min_credits: 500
      name: One
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, int64(250), cfg.Economy.StartingGrant)
	assert.Equal(t, int64(-7), cfg.Economy.TreasuryUserID)
	assert.Equal(t, int64(250), cfg.Economy.FeeBps("gift"))
	assert.Equal(t, time.Hour, cfg.Marketplace.OfferDuration)
	require.Len(t, cfg.Wealth.Tiers, 2)
	assert.Equal(t, int64(500), cfg.Wealth.Tiers[1].MinCredits)
	assert.Equal(t, "One", cfg.Wealth.Tiers[1].Name)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("ECONOMY_MYSQL_HOST", "db.internal")
	t.Setenv("ECONOMY_SERVER_PORT", "7000")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "db.internal", cfg.MySQL.Host)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsUnsafeValues(t *testing.T) {
	cases := map[string]string{
		"treasury is a user id":  "economy:\n  treasury_user_id: 1\n",
		"transfer fee over 100%": "economy:\n  transfer_fee_bps:\n    gift: 10001\n",
		"negative transfer fee":  "economy:\n  transfer_fee_bps:\n    tip: -1\n",
		"tier fee over 100%": `
wealth:
  tiers:
    - level: 0
      min_credits: 0
      marketplace_fee_bps: 20000
`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}

	t.Setenv("ECONOMY_ECONOMY_TREASURY_USER_ID", "5")
	_, err := LoadConfig("")
	assert.Error(t, err)
}
