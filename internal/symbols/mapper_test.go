package symbols

import "testing"

func TestToPair(t *testing.T) {
	tests := []struct {
		source string
		symbol string
		quote  string
		want   string
	}{
		{"binance", "TLOS", "USDT", "TLOSUSDT"},
		{"binance", "tlos", "", "TLOSUSDT"},
		{"binance_ws", "TLOS", "USDT", "tlosusdt@ticker"},
		{"coingecko", "TLOS", "USD", "telos"},
		{"coingecko", "NEWCOIN", "USD", "newcoin"},
		{"kucoin", "TLOS", "USDT", "TLOS-USDT"},
		{"okx", "eos", "usdt", "EOS-USDT"},
		{"unknown", "EOS", "USD", "EOSUSD"},
	}
	for _, tt := range tests {
		if got := ToPair(tt.source, tt.symbol, tt.quote); got != tt.want {
			t.Errorf("ToPair(%s,%s,%s)=%s want %s", tt.source, tt.symbol, tt.quote, got, tt.want)
		}
	}
}

func TestFromPair(t *testing.T) {
	tests := []struct {
		source string
		in     string
		want   string
	}{
		{"binance_ws", "tlosusdt@ticker", "TLOSUSDT"},
		{"binance", "TLOSUSDT", "TLOSUSDT"},
		{"kucoin", "TLOS-USDT", "TLOSUSDT"},
		{"okx", "eos-usdt", "EOSUSDT"},
	}
	for _, tt := range tests {
		if got := FromPair(tt.source, tt.in); got != tt.want {
			t.Errorf("FromPair(%s,%s)=%s want %s", tt.source, tt.in, got, tt.want)
		}
	}
}
