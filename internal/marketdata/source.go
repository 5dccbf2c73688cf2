package marketdata

import (
	"context"

	binance "github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"enginesync/logger"
	"enginesync/models"
)

// PriceSource produces one market observation per call. Implementations must
// fail fast; the synchronizer retries on the next tick.
type PriceSource interface {
	Quote(ctx context.Context, symbol string) (models.MarketTick, error)
}

// StatusSource fetches the engine status snapshot. The backend client is the
// production implementation.
type StatusSource interface {
	Dashboard(ctx context.Context) (models.EngineStatusSnapshot, error)
}

// QuoteClient is the backend quote operation; satisfied by the backend
// client.
type QuoteClient interface {
	Ticker(ctx context.Context, symbol string) (models.MarketTick, error)
}

// backendSource quotes symbols from the backend's market ticker endpoint for
// deployments without direct venue access.
type backendSource struct {
	client QuoteClient
}

func NewBackendSource(client QuoteClient) PriceSource {
	return &backendSource{client: client}
}

func (s *backendSource) Quote(ctx context.Context, symbol string) (models.MarketTick, error) {
	return s.client.Ticker(ctx, symbol)
}

// binanceSource quotes symbols from Binance 24h ticker statistics.
type binanceSource struct {
	client *binance.Client
}

// NewBinanceSource builds the public market-data source; no credentials are
// required for ticker statistics.
func NewBinanceSource() PriceSource {
	return &binanceSource{client: binance.NewClient("", "")}
}

func (s *binanceSource) Quote(ctx context.Context, symbol string) (models.MarketTick, error) {
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return models.MarketTick{}, errors.Wrapf(err, "ticker stats for %s", symbol)
	}
	if len(stats) == 0 {
		return models.MarketTick{}, errors.Errorf("no ticker stats for %s", symbol)
	}

	price, err := decimal.NewFromString(stats[0].LastPrice)
	if err != nil {
		return models.MarketTick{}, errors.Wrapf(err, "parse last price %q", stats[0].LastPrice)
	}
	change, err := decimal.NewFromString(stats[0].PriceChangePercent)
	if err != nil {
		return models.MarketTick{}, errors.Wrapf(err, "parse change percent %q", stats[0].PriceChangePercent)
	}

	logger.IncrementTickPoll(len(stats[0].LastPrice))

	return models.MarketTick{
		Symbol:        symbol,
		Price:         price,
		ChangePercent: change,
	}, nil
}
