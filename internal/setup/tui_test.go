package setup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/fxdesk/config"
	"gopkg.in/yaml.v3"
)

func TestSaveWritesLoadableConfig(t *testing.T) {
	a := defaults()
	a.symbols = "eurusd, xauusd"
	a.walletURL = "https://wallet.example.com"
	a.strategyOn = true

	path := filepath.Join(t.TempDir(), "config.gen.yaml")
	require.NoError(t, save(path, a))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var tmp config.ConfigTmp
	require.NoError(t, yaml.Unmarshal(raw, &tmp))

	conf, err := tmp.Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"EURUSD", "XAUUSD"}, conf.Symbols)
	assert.Equal(t, 10*time.Second, conf.Wallet.SyncInterval)
	assert.True(t, conf.Strategy.Enabled)
	assert.Equal(t, ":8080", conf.Dashboard.Addr)
}

func TestBuildRejectsInvalidAnswers(t *testing.T) {
	a := defaults()
	a.balance = "-5"
	_, err := build(a)
	assert.Error(t, err)

	a = defaults()
	a.syncInterval = "soon"
	_, err = build(a)
	assert.Error(t, err)
}

func TestValidators(t *testing.T) {
	assert.NoError(t, validateSymbols("EURUSD,BTCUSD"))
	assert.Error(t, validateSymbols(" , "))
	assert.Error(t, validateSymbols("USDJPY"))

	hint := symbolsHint()
	assert.Contains(t, hint, "AUDUSD, BNBUSD, BTCUSD")
	assert.Contains(t, hint, "XAUUSD")

	assert.NoError(t, validatePositive("0.01"))
	assert.Error(t, validatePositive("0"))
	assert.Error(t, validatePositive("abc"))
}
