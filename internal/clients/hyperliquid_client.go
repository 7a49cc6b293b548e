package clients

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	hyperliquid "github.com/sonirico/go-hyperliquid"

	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
)

// HyperliquidMainnetURL public Hyperliquid API.
const HyperliquidMainnetURL = "https://api.hyperliquid.xyz"

// HyperliquidInfo read-only Hyperliquid info client.
type HyperliquidInfo struct {
	info *hyperliquid.Info
}

// NewHyperliquidInfo creates an info client for baseURL. The SDK hands out Info
// through an Exchange, which needs a signer; a session key is generated for it
// and never signs anything since only info endpoints are called.
func NewHyperliquidInfo(baseURL string) (*HyperliquidInfo, error) {
	if baseURL == "" {
		baseURL = HyperliquidMainnetURL
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate hyperliquid session key")
	}

	pubECDSA, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("error casting public key to ECDSA")
	}
	accountAddr := crypto.PubkeyToAddress(*pubECDSA).Hex()

	ex := hyperliquid.NewExchange(
		context.Background(),
		privateKey,
		baseURL,
		nil,
		"",
		accountAddr,
		nil,
	)

	return &HyperliquidInfo{info: ex.Info()}, nil
}

// AllMids returns mid prices keyed by coin.
func (h *HyperliquidInfo) AllMids(ctx context.Context) (map[string]string, error) {
	mids, err := h.info.AllMids(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(mids))
	for coin, mid := range mids {
		out[coin] = mid
	}
	return out, nil
}

// Candles returns the candle snapshot for coin between startMs and endMs.
func (h *HyperliquidInfo) Candles(ctx context.Context, coin, interval string, startMs, endMs int64) ([]marketdata.HyperliquidCandle, error) {
	candles, err := h.info.CandlesSnapshot(ctx, coin, interval, startMs, endMs)
	if err != nil {
		return nil, err
	}

	out := make([]marketdata.HyperliquidCandle, 0, len(candles))
	for _, c := range candles {
		out = append(out, marketdata.HyperliquidCandle{
			TimeOpen:  c.TimeOpen,
			TimeClose: c.TimeClose,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		})
	}
	return out, nil
}

var _ marketdata.HyperliquidInfo = (*HyperliquidInfo)(nil)
