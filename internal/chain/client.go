// Package chain reads contract tables from an EOSIO-family node.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	ratemetrics "dexflow/internal/metrics/rate"
	"dexflow/internal/model"
	"dexflow/logger"
)

// TableQuery selects rows of a contract table.
type TableQuery struct {
	Code  string `json:"code"`
	Table string `json:"table"`
	Scope string `json:"scope"`
	Limit int    `json:"limit,omitempty"`
	JSON  bool   `json:"json"`
}

// TableRows is the raw get_table_rows response.
type TableRows struct {
	Rows []json.RawMessage `json:"rows"`
	More bool              `json:"more"`
}

// Stat is a row of a token contract's stat table.
type Stat struct {
	Supply    Asset
	MaxSupply Asset
	Issuer    string
}

// Client issues read-only RPC calls against one node.
type Client struct {
	baseURL       string
	http          *http.Client
	limiter       *rate.Limiter
	log           *logger.Log
	statTable     string
	accountsTable string
}

type ClientOption func(*Client)

// WithTables overrides the token stat and accounts table names.
func WithTables(stat, accounts string) ClientOption {
	return func(c *Client) {
		if stat != "" {
			c.statTable = stat
		}
		if accounts != "" {
			c.accountsTable = accounts
		}
	}
}

// NewClient creates a client for the node at baseURL. A non-positive rps
// disables client-side limiting.
func NewClient(baseURL string, timeout time.Duration, rps float64, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		http:          &http.Client{Timeout: timeout},
		limiter:       rate.NewLimiter(limit, 1),
		log:           logger.GetLogger(),
		statTable:     "stat",
		accountsTable: "accounts",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTableRows fetches rows as JSON objects.
func (c *Client) GetTableRows(ctx context.Context, q TableQuery) (*TableRows, error) {
	q.JSON = true
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("chain rate limiter: %w", err)
	}

	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("failed to encode table query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chain/get_table_rows", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "dexflow/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	target := q.Code + "/" + q.Table
	if resp.StatusCode != http.StatusOK {
		ratemetrics.ReportLimitFromResponse(c.log, "chain", target, resp.StatusCode, string(raw))
		return nil, fmt.Errorf("get_table_rows %s: HTTP error: %s", target, resp.Status)
	}

	var rows TableRows
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s rows: %w", target, err)
	}
	return &rows, nil
}

// TokenStats reads the stat row of symbol on contract.
func (c *Client) TokenStats(ctx context.Context, contract, symbol string) (Stat, error) {
	rows, err := c.GetTableRows(ctx, TableQuery{Code: contract, Table: c.statTable, Scope: strings.ToUpper(symbol), Limit: 1})
	if err != nil {
		return Stat{}, err
	}
	if len(rows.Rows) == 0 {
		return Stat{}, fmt.Errorf("token %s on %s: %w", symbol, contract, model.ErrNotFound)
	}

	var row struct {
		Supply    string `json:"supply"`
		MaxSupply string `json:"max_supply"`
		Issuer    string `json:"issuer"`
	}
	if err := json.Unmarshal(rows.Rows[0], &row); err != nil {
		return Stat{}, fmt.Errorf("failed to decode stat row: %w", err)
	}
	supply, err := ParseAsset(row.Supply)
	if err != nil {
		return Stat{}, err
	}
	maxSupply, err := ParseAsset(row.MaxSupply)
	if err != nil {
		return Stat{}, err
	}
	return Stat{Supply: supply, MaxSupply: maxSupply, Issuer: row.Issuer}, nil
}

// Balance reads account's balance of symbol from contract's accounts table.
// An account without a row holds zero.
func (c *Client) Balance(ctx context.Context, contract, account, symbol string) (Asset, error) {
	rows, err := c.GetTableRows(ctx, TableQuery{Code: contract, Table: c.accountsTable, Scope: account, Limit: 99})
	if err != nil {
		return Asset{}, err
	}
	for _, raw := range rows.Rows {
		var row struct {
			Balance string `json:"balance"`
		}
		if err := json.Unmarshal(raw, &row); err != nil {
			return Asset{}, fmt.Errorf("failed to decode accounts row: %w", err)
		}
		asset, err := ParseAsset(row.Balance)
		if err != nil {
			return Asset{}, err
		}
		if model.CompareSymbol(asset.Symbol, symbol) {
			return asset, nil
		}
	}
	return Asset{Symbol: strings.ToUpper(symbol)}, nil
}
