package symbols

import "strings"

// coinGeckoIDs maps chain token symbols to CoinGecko coin ids.
var coinGeckoIDs = map[string]string{
	"TLOS":  "telos",
	"SEEDS": "seeds",
	"EOS":   "eos",
	"USDT":  "tether",
	"HYPHA": "hypha",
}

// ToPair converts a chain symbol and quote currency into the requested
// price source's pair format.
// Currently supported sources: binance, binance_ws, coingecko, kucoin, okx.
func ToPair(source, symbol, quote string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		quote = "USDT"
	}

	switch strings.ToLower(source) {
	case "binance":
		return symbol + quote
	case "binance_ws":
		return strings.ToLower(symbol+quote) + "@ticker"
	case "coingecko":
		return ToCoinGeckoID(symbol)
	case "kucoin", "okx":
		return symbol + "-" + quote
	default:
		return symbol + quote
	}
}

// ToCoinGeckoID returns the CoinGecko id for symbol, falling back to the
// lower cased symbol.
func ToCoinGeckoID(symbol string) string {
	if id, ok := coinGeckoIDs[strings.ToUpper(strings.TrimSpace(symbol))]; ok {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

// FromPair strips separators and stream suffixes from a source pair and
// returns it in upper case, e.g. "tlosusdt@ticker" -> "TLOSUSDT".
func FromPair(source, pair string) string {
	pair = strings.TrimSpace(pair)
	switch strings.ToLower(source) {
	case "binance_ws":
		if i := strings.IndexByte(pair, '@'); i >= 0 {
			pair = pair[:i]
		}
	case "kucoin", "okx":
		pair = strings.ReplaceAll(pair, "-", "")
	}
	return strings.ToUpper(pair)
}
