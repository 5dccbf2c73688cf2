// Package backend wraps the HTTP API exposed by the trading backend behind a
// small typed client. Every sync component that talks to the backend goes
// through this client; the base URL is the single API_BASE host.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"enginesync/logger"
	"enginesync/models"
)

// ErrEngineMissing is returned by ProbeEngine when the backend reports that
// the engine artifact is not installed.
var ErrEngineMissing = errors.New("engine artifact not installed")

type Client struct {
	client *resty.Client
	log    *logger.Log
}

// NewClient builds a resty client bound to the backend base URL. The client
// retries transient failures on its own; callers still treat any returned
// error as a failed poll or exchange.
func NewClient(base string, timeout time.Duration) *Client {
	base = strings.TrimRight(base, "/")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := resty.New().
		SetBaseURL(base).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second)

	return &Client{client: client, log: logger.GetLogger()}
}

// dashboardPayload mirrors the backend status endpoint body.
type dashboardPayload struct {
	Engines struct {
		Performance float64 `json:"performance"`
		Confidence  float64 `json:"confidence"`
	} `json:"engines"`
	LastSignal *struct {
		FinalVerdict string    `json:"final_verdict"`
		Chaos        float64   `json:"chaos"`
		Timestamp    time.Time `json:"timestamp"`
	} `json:"last_signal"`
}

// Dashboard fetches the engine status endpoint and converts it into a full
// snapshot. The caller owns the stale-but-available policy; this method only
// reports success or failure.
func (c *Client) Dashboard(ctx context.Context) (models.EngineStatusSnapshot, error) {
	resp, err := c.client.R().SetContext(ctx).Get("/api/dashboard")
	if err != nil {
		return models.EngineStatusSnapshot{}, errors.Wrap(err, "dashboard request failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return models.EngineStatusSnapshot{}, errors.Errorf("dashboard request returned status %d", resp.StatusCode())
	}

	var payload dashboardPayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return models.EngineStatusSnapshot{}, errors.Wrap(err, "dashboard response decode failed")
	}

	logger.IncrementStatusPoll(len(resp.Body()))

	snapshot := models.EngineStatusSnapshot{
		EngineMetricA: payload.Engines.Performance,
		EngineMetricB: payload.Engines.Confidence,
		FetchedAt:     time.Now(),
	}
	if payload.LastSignal != nil {
		snapshot.LastSignal = &models.LastSignal{
			Verdict:    payload.LastSignal.FinalVerdict,
			ChaosScore: payload.LastSignal.Chaos,
			Timestamp:  payload.LastSignal.Timestamp,
		}
	}
	return snapshot, nil
}

// ExchangeResponse is the backend's answer to a token exchange call.
type ExchangeResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// ExchangeCode trades an OAuth authorization code for a stored access token.
// A non-success status is not an error at this layer; the bridge maps it to a
// redirect code.
func (c *Client) ExchangeCode(ctx context.Context, path, code string) (ExchangeResponse, error) {
	if path == "" {
		path = "/api/auth/coinbase/callback"
	}

	logger.IncrementExchangeCall()

	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("code", code).
		Get(path)
	if err != nil {
		return ExchangeResponse{}, errors.Wrap(err, "token exchange request failed")
	}

	var out ExchangeResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return ExchangeResponse{}, errors.Wrapf(err, "token exchange response decode failed (status %d)", resp.StatusCode())
	}
	return out, nil
}

// tickerPayload mirrors the backend market ticker endpoint body.
type tickerPayload struct {
	Price         string `json:"price"`
	ChangePercent string `json:"change_percent"`
}

// Ticker fetches the backend's market quote for one symbol. Deployments
// without direct venue access point the market source here instead of at the
// exchange.
func (c *Client) Ticker(ctx context.Context, symbol string) (models.MarketTick, error) {
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		Get("/api/market/ticker")
	if err != nil {
		return models.MarketTick{}, errors.Wrapf(err, "ticker request for %s failed", symbol)
	}
	if resp.StatusCode() != http.StatusOK {
		return models.MarketTick{}, errors.Errorf("ticker request for %s returned status %d", symbol, resp.StatusCode())
	}

	var payload tickerPayload
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return models.MarketTick{}, errors.Wrap(err, "ticker response decode failed")
	}

	price, err := decimal.NewFromString(payload.Price)
	if err != nil {
		return models.MarketTick{}, errors.Wrapf(err, "parse ticker price %q", payload.Price)
	}
	change := decimal.Zero
	if payload.ChangePercent != "" {
		change, err = decimal.NewFromString(payload.ChangePercent)
		if err != nil {
			return models.MarketTick{}, errors.Wrapf(err, "parse ticker change %q", payload.ChangePercent)
		}
	}

	logger.IncrementTickPoll(len(resp.Body()))

	return models.MarketTick{Symbol: symbol, Price: price, ChangePercent: change}, nil
}

// ProbeEngine checks whether the engine service is installed and reachable.
// A 404 means the artifact is absent; any other non-200 status or transport
// failure is reported as a plain error.
func (c *Client) ProbeEngine(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	resp, err := c.client.R().SetContext(ctx).Get(path)
	if err != nil {
		return errors.Wrap(err, "engine probe failed")
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrEngineMissing
	default:
		return errors.Errorf("engine probe returned status %d", resp.StatusCode())
	}
}

// DownloadArtifact streams the engine artifact to the install path. The
// download does not change connection state; it is the prerequisite the
// operator performs before connecting again.
func (c *Client) DownloadArtifact(ctx context.Context, url, dst string) error {
	if url == "" || dst == "" {
		return errors.New("artifact url and install path are required")
	}

	resp, err := c.client.R().
		SetContext(ctx).
		SetOutput(dst).
		Get(url)
	if err != nil {
		return errors.Wrap(err, "artifact download failed")
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("artifact download returned status %d", resp.StatusCode())
	}
	return nil
}
