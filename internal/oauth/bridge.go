// Package oauth completes the authorization-code exchange that an external
// broker initiates with a browser redirect. The bridge is stateless: each
// inbound callback is mapped to exactly one outbound redirect, and every
// failure path degrades to a redirect carrying a diagnostic code.
package oauth

import (
	"context"
	"net/url"

	"enginesync/config"
	"enginesync/internal/backend"
	"enginesync/internal/metrics"
	"enginesync/logger"
	"enginesync/models"
)

// ErrorCodeMissing is reported when the callback carries neither a code nor
// an error parameter.
const ErrorCodeMissing = "missing_code"

// ErrorCodeInternal is reported when the exchange call itself failed before
// the backend could answer.
const ErrorCodeInternal = "internal_error"

// Exchanger is the backend operation the bridge depends on.
type Exchanger interface {
	ExchangeCode(ctx context.Context, path, code string) (backend.ExchangeResponse, error)
}

// Redirect is the single decision a callback resolves to.
type Redirect struct {
	Location string
	Result   models.ExchangeResult
}

// Bridge maps inbound OAuth callbacks to dashboard redirects.
type Bridge struct {
	cfg     config.OAuthConfig
	backend Exchanger
	log     *logger.Log
}

func NewBridge(cfg config.OAuthConfig, backend Exchanger, log *logger.Log) *Bridge {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Bridge{cfg: cfg, backend: backend, log: log}
}

// HandleCallback resolves one inbound redirect. An inbound error parameter is
// forwarded without calling the backend; a missing code short-circuits the
// same way. Otherwise the code is exchanged and the backend's verdict decides
// the redirect.
func (b *Bridge) HandleCallback(ctx context.Context, query url.Values) Redirect {
	log := b.log.WithComponent("oauth_bridge")

	if errCode := query.Get("error"); errCode != "" {
		log.WithFields(logger.Fields{
			"error":       errCode,
			"description": query.Get("error_description"),
		}).Warn("broker reported authorization error")
		return b.errorRedirect(errCode)
	}

	code := query.Get("code")
	if code == "" {
		log.Warn("callback carried neither code nor error")
		return b.errorRedirect(ErrorCodeMissing)
	}

	if b.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.Timeout)
		defer cancel()
	}

	resp, err := b.backend.ExchangeCode(ctx, b.cfg.ExchangePath, code)
	if err != nil {
		log.WithError(err).Error("token exchange call failed")
		return b.errorRedirect(ErrorCodeInternal)
	}
	if resp.Status != "success" {
		errCode := resp.Error
		if errCode == "" {
			errCode = resp.Status
		}
		log.WithFields(logger.Fields{"status": resp.Status, "error": errCode}).Warn("backend rejected token exchange")
		return b.errorRedirect(errCode)
	}

	log.Info("token exchange completed")
	return Redirect{
		Location: b.dashboardURL("oauth_success", "true"),
		Result:   models.ExchangeResult{Outcome: models.ExchangeSuccess},
	}
}

func (b *Bridge) errorRedirect(code string) Redirect {
	metrics.EmitFailureMetric(b.log, metrics.FailureMetricExchange, "", code)
	return Redirect{
		Location: b.dashboardURL("oauth_error", code),
		Result:   models.ExchangeResult{Outcome: models.ExchangeError, ErrorCode: code},
	}
}

func (b *Bridge) dashboardURL(key, value string) string {
	target, err := url.Parse(b.cfg.DashboardURL)
	if err != nil || b.cfg.DashboardURL == "" {
		target = &url.URL{Path: "/"}
	}
	q := target.Query()
	q.Set(key, value)
	target.RawQuery = q.Encode()
	return target.String()
}
