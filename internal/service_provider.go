package internal

import (
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"go.uber.org/zap"

	"github.com/vadiminshakov/fxdesk/config"
	"github.com/vadiminshakov/fxdesk/internal/clients"
	"github.com/vadiminshakov/fxdesk/internal/services/marketdata"
)

// newVendorClient creates the public market data client for provider.
func newVendorClient(provider string) (any, error) {
	switch provider {
	case config.ProviderBinance:
		return clients.NewBinanceClient("", ""), nil
	case config.ProviderBybit:
		return clients.NewBybitClient("", ""), nil
	case config.ProviderHyperliquid:
		return clients.NewHyperliquidInfo(clients.HyperliquidMainnetURL)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

// newMarketDataProvider dispatches on the vendor client type.
func newMarketDataProvider(client any, logger *zap.Logger) (marketdata.Provider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return marketdata.NewBinanceProvider(c, logger), nil
	case *bybit.Client:
		return marketdata.NewBybitProvider(c, logger), nil
	case *clients.HyperliquidInfo:
		return marketdata.NewHyperliquidProvider(c, logger), nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}
