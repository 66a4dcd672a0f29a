// Package leaderboard fetches miner balances from the XenBlocks leaderboard
// API. Balances arrive as 18-decimal strings, often in scientific notation;
// parsing them is the amount package's job, not ours.
package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/x1-labs/xenblocks-airdrop/internal/retry"
)

const (
	// MaxPageSize is the API's upper page size.
	MaxPageSize = 1000

	defaultHTTPTimeout = 30 * time.Second
)

// Miner is one leaderboard row: an ETH mining account, the Solana wallet it
// registered for payouts, and its cumulative balances at 18 decimals.
type Miner struct {
	Account    string `json:"account"`
	SolAddress string `json:"solAddress"`
	XNM        string `json:"xnm"`
	XBLK       string `json:"xblk"`
	XUNI       string `json:"xuni"`
}

type page struct {
	Miners []Miner `json:"miners"`
}

type ClientConfig struct {
	Logger  *slog.Logger
	BaseURL string

	// PageSize caps rows per request; defaults to MaxPageSize.
	PageSize int

	// RequestsPerSecond throttles calls to the public API. Zero disables
	// throttling.
	RequestsPerSecond float64

	HTTPClient *http.Client
	Retry      retry.Config
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if cfg.PageSize < 0 || cfg.PageSize > MaxPageSize {
		return fmt.Errorf("page size must be in [0, %d]", MaxPageSize)
	}
	return nil
}

type Client struct {
	log      *slog.Logger
	cfg      ClientConfig
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = MaxPageSize
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Client{
		log:      cfg.Logger,
		cfg:      cfg,
		http:     httpClient,
		limiter:  limiter,
		pageSize: pageSize,
	}, nil
}

// FetchAll pages through the leaderboard until a short or empty page and
// returns all miners in feed order.
func (c *Client) FetchAll(ctx context.Context) ([]Miner, error) {
	var miners []Miner

	for offset := 0; ; offset += c.pageSize {
		batch, err := c.fetchPage(ctx, c.pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("fetch leaderboard page at offset %d: %w", offset, err)
		}
		miners = append(miners, batch...)

		if len(batch) < c.pageSize {
			break
		}
	}

	c.log.Debug("leaderboard: fetched miners", "count", len(miners))
	return miners, nil
}

func (c *Client) fetchPage(ctx context.Context, limit, offset int) ([]Miner, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	q := u.Query()
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	var result page
	err = retry.Do(ctx, c.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("leaderboard status %d: %s", resp.StatusCode, string(body))
		}

		result = page{}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result.Miners, nil
}
