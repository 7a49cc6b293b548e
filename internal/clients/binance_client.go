package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient creates a client for public market data. Keys are optional.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
