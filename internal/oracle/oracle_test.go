package oracle

import (
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"dexflow/config"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCoinGeckoFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("ids") != "telos" || q.Get("vs_currencies") != "usd" || q.Get("include_24hr_change") != "true" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		if r.Header.Get("x-cg-demo-api-key") != "secret" {
			t.Errorf("api key header missing")
		}
		_, _ = w.Write([]byte(`{"telos":{"usd":0.25,"usd_24h_change":-4.0}}`))
	}))
	defer srv.Close()

	src := NewCoinGecko(config.CoinGeckoConfig{BaseURL: srv.URL + "/", APIKey: "secret"}, "TLOS")
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if quote.Source != "coingecko" || !approx(quote.USDPrice, 0.25) {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if !quote.HasChange || !approx(quote.Change24h, -0.04) {
		t.Fatalf("change = %v (has=%v), want -0.04", quote.Change24h, quote.HasChange)
	}
}

func TestCoinGeckoMissingChange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"telos":{"usd":0.3}}`))
	}))
	defer srv.Close()

	quote, err := NewCoinGecko(config.CoinGeckoConfig{BaseURL: srv.URL}, "TLOS").Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if quote.HasChange {
		t.Fatalf("expected quote without change, got %+v", quote)
	}
}

func TestCoinGeckoErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"throttled", http.StatusTooManyRequests, `{"status":{"error_code":429}}`, ErrThrottled},
		{"unknown coin", http.StatusOK, `{}`, ErrNoQuote},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewCoinGecko(config.CoinGeckoConfig{BaseURL: srv.URL}, "TLOS").Fetch(context.Background())
			if !errors.Is(err, tc.want) {
				t.Fatalf("Fetch error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCoinGeckoServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewCoinGecko(config.CoinGeckoConfig{BaseURL: srv.URL}, "TLOS").Fetch(context.Background())
	if err == nil || errors.Is(err, ErrThrottled) {
		t.Fatalf("expected plain server error, got %v", err)
	}
}

func TestBinanceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/ticker/24hr" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("symbol") != "TLOSUSDT" {
			t.Errorf("unexpected symbol %s", r.URL.Query().Get("symbol"))
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"symbol":"TLOSUSDT","lastPrice":"0.20000000","priceChangePercent":"2.500"}`))
	}))
	defer srv.Close()

	src := NewBinance(config.BinanceConfig{BaseURL: srv.URL, Quote: "USDT"}, "TLOS")
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if !approx(quote.USDPrice, 0.2) || !approx(quote.Change24h, 0.025) || !quote.HasChange {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestBinanceFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	_, err := NewBinance(config.BinanceConfig{BaseURL: srv.URL, Quote: "USDT"}, "TLOS").Fetch(context.Background())
	if err == nil {
		t.Fatal("expected error for invalid symbol")
	}
	if errors.Is(err, ErrThrottled) {
		t.Fatalf("invalid symbol should not be reported as throttling: %v", err)
	}
}

func newTickerServer(t *testing.T, frames ...string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		var sub struct {
			Method string   `json:"method"`
			Params []string `json:"params"`
		}
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		if sub.Method != "SUBSCRIBE" || len(sub.Params) != 1 || sub.Params[0] != "tlosusdt@ticker" {
			t.Errorf("unexpected subscription %+v", sub)
		}
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		// Hold the connection open until the client closes it.
		_, _, _ = conn.ReadMessage()
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebsocketTickerFetch(t *testing.T) {
	srv := newTickerServer(t,
		`{"result":null,"id":1}`,
		`{"e":"24hrTicker","s":"EOSUSDT","c":"0.7","P":"1.0"}`,
		`{"e":"24hrTicker","s":"TLOSUSDT","c":"0.21","P":"-10.0"}`,
	)
	defer srv.Close()

	src := NewWebsocketTicker(config.WebsocketConfig{URL: wsURL(srv), Quote: "USDT", ReadTimeout: time.Second}, "TLOS")
	quote, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if quote.Source != "binance_ws" || !approx(quote.USDPrice, 0.21) || !approx(quote.Change24h, -0.1) {
		t.Fatalf("unexpected quote %+v", quote)
	}
}

func TestWebsocketTickerHonoursContext(t *testing.T) {
	srv := newTickerServer(t, `{"result":null,"id":1}`)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	src := NewWebsocketTicker(config.WebsocketConfig{URL: wsURL(srv), Quote: "USDT", ReadTimeout: 5 * time.Second}, "TLOS")
	start := time.Now()
	if _, err := src.Fetch(ctx); err == nil {
		t.Fatal("expected error once the context expired")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("Fetch did not return promptly after the context expired")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.PricesConfig{
		Symbol:    "TLOS",
		CoinGecko: config.CoinGeckoConfig{Enabled: true},
		Websocket: config.WebsocketConfig{Enabled: true, Quote: "USDT"},
	}
	sources := FromConfig(cfg)
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	if sources[0].Name() != "coingecko" || sources[1].Name() != "binance_ws" {
		t.Fatalf("unexpected source order: %s, %s", sources[0].Name(), sources[1].Name())
	}
}
