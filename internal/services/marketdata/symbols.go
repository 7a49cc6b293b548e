package marketdata

import (
	"regexp"
	"sort"
	"strings"
)

// platformSymbols maps platform symbols to the USDT-quoted spot pairs the
// crypto venues list. Gold trades as PAXG.
var platformSymbols = map[string]string{
	"EURUSD": "EURUSDT",
	"GBPUSD": "GBPUSDT",
	"AUDUSD": "AUDUSDT",
	"BTCUSD": "BTCUSDT",
	"ETHUSD": "ETHUSDT",
	"XAUUSD": "PAXGUSDT",
	"SOLUSD": "SOLUSDT",
	"BNBUSD": "BNBUSDT",
	"XRPUSD": "XRPUSDT",
	"ADAUSD": "ADAUSDT",
	"LTCUSD": "LTCUSDT",
}

var vendorSymbolPattern = regexp.MustCompile(`^[A-Z0-9]{2,10}USDT$`)

// NormalizeSymbol maps a platform symbol to the vendor pair. Accepts EURUSD, EUR/USD, eur-usd, EURUSDT.
func NormalizeSymbol(symbol string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.NewReplacer("/", "", "-", "", "_", "", " ", "").Replace(s)
	if s == "" {
		return "", false
	}

	if vendor, ok := platformSymbols[s]; ok {
		return vendor, true
	}
	if vendorSymbolPattern.MatchString(s) {
		return s, true
	}

	return "", false
}

// SupportedSymbols returns the platform symbols with a known vendor mapping, sorted.
func SupportedSymbols() []string {
	out := make([]string, 0, len(platformSymbols))
	for s := range platformSymbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
