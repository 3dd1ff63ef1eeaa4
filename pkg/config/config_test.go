package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/chainswap/swap-engine/pkg/app/errors"
)

const validConfig = `
secrets:
  master_mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
  server_secret: "abababababababababababababababababababababababababababababababab"
evm:
  rpc_url: "http://localhost:8545"
  chain_id: 1
  wrapped_native: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
venues:
  amm:
    factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984"
    quoter: "0xb27308f9F90D607463bb33eA1BeBb41C27CE5AB6"
    router: "0xE592427A0AEce92De3Edee1F18E0157C05861564"
  auction:
    base_url: "https://auction.example.com"
    settlement_contract: "0x9008D19f58AAbD9eD0D60971565AA8510560ab41"
swapnet:
  base_url: "https://swapnet.example.com"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []uint32{100, 500, 3000, 10000}, cfg.Venues.AMM.FeeTiers)
	assert.Equal(t, 2*time.Hour, cfg.Coordinator.Timelock)
	assert.Equal(t, 30*time.Second, cfg.Coordinator.SettleInterval)
	assert.Equal(t, 3*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, "mainnet", cfg.Bitcoin.Network)
	assert.True(t, cfg.Monitoring.Enabled)

	secret, err := cfg.Secrets.DecodeServerSecret()
	require.NoError(t, err)
	assert.Len(t, secret, 32)
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	bad := `
evm:
  rpc_url: "http://localhost:8545"
  chain_id: 1
  wrapped_native: "0x01"
swapnet:
  base_url: "https://swapnet.example.com"
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
}

func TestLoadRejectsEnabledVenueWithoutAddresses(t *testing.T) {
	bad := `
secrets:
  master_mnemonic: "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
  server_secret: "abababababababababababababababababababababababababababababababab"
evm:
  rpc_url: "http://localhost:8545"
  chain_id: 1
  wrapped_native: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
venues:
  amm:
    enabled: true
swapnet:
  base_url: "https://swapnet.example.com"
`
	_, err := Load(writeConfig(t, bad))
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
}

func TestDecodeServerSecretRejectsNonHex(t *testing.T) {
	s := SecretsConfig{ServerSecret: "not-hex"}
	_, err := s.DecodeServerSecret()
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.KindConfiguration))
}
