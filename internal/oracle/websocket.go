package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"dexflow/config"
	"dexflow/internal/symbols"
	"dexflow/logger"
)

const websocketName = "binance_ws"

// tickerEvent is the subset of a 24h ticker stream event that carries the quote.
type tickerEvent struct {
	Event         string `json:"e"`
	Symbol        string `json:"s"`
	LastPrice     string `json:"c"`
	ChangePercent string `json:"P"`
}

// WebsocketTicker subscribes to a ticker stream and returns the first event
// for its pair.
type WebsocketTicker struct {
	url         string
	stream      string
	pair        string
	readTimeout time.Duration
	dialer      *websocket.Dialer
	log         *logger.Log
	now         func() time.Time
}

func NewWebsocketTicker(cfg config.WebsocketConfig, symbol string) *WebsocketTicker {
	readTimeout := cfg.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	return &WebsocketTicker{
		url:         cfg.URL,
		stream:      symbols.ToPair(websocketName, symbol, cfg.Quote),
		pair:        symbols.ToPair(binanceName, symbol, cfg.Quote),
		readTimeout: readTimeout,
		dialer:      websocket.DefaultDialer,
		log:         logger.GetLogger(),
		now:         time.Now,
	}
}

func (w *WebsocketTicker) Name() string { return websocketName }

func (w *WebsocketTicker) Fetch(ctx context.Context) (Quote, error) {
	log := w.log.WithComponent(websocketName).WithFields(logger.Fields{"stream": w.stream})

	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	// Unblock the read loop when the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	subscribe := map[string]interface{}{
		"method": "SUBSCRIBE",
		"params": []string{w.stream},
		"id":     1,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return Quote{}, fmt.Errorf("subscribe %s: %w", w.stream, err)
	}
	log.Debug("subscribed to ticker stream")

	deadline := w.now().Add(w.readTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Quote{}, fmt.Errorf("set read deadline: %w", err)
	}

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return Quote{}, ctx.Err()
			}
			return Quote{}, fmt.Errorf("read %s: %w", w.stream, err)
		}

		var evt tickerEvent
		if err := json.Unmarshal(message, &evt); err != nil {
			log.WithError(err).Debug("skipping undecodable message")
			continue
		}
		// Subscription acks and other streams carry no symbol for this pair.
		if !strings.EqualFold(evt.Symbol, w.pair) || evt.LastPrice == "" {
			continue
		}

		price, err := strconv.ParseFloat(evt.LastPrice, 64)
		if err != nil || price <= 0 {
			return Quote{}, fmt.Errorf("%s last price %q: %w", w.stream, evt.LastPrice, ErrNoQuote)
		}
		quote := Quote{
			Source:     websocketName,
			USDPrice:   price,
			ReceivedAt: w.now(),
		}
		if pct, err := strconv.ParseFloat(evt.ChangePercent, 64); err == nil {
			quote.Change24h = pct / 100
			quote.HasChange = true
		}
		return quote, nil
	}
}
