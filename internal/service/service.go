package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/assets"
	"github.com/boro-labs/borod/internal/logger"
)

// PriceSource fetches USD spot prices for a set of assets.
type PriceSource interface {
	Fetch(ctx context.Context, list []assets.Asset) (map[assets.Asset]decimal.Decimal, error)
}

// ErrorNotifier receives polling failure and recovery notices.
type ErrorNotifier interface {
	SendError(err error) error
	SendRecovery(failureCount int) error
}

// Config carries the service's polling cadences.
type Config struct {
	ChainPollInterval time.Duration
	PricePollInterval time.Duration
}

// Service owns all sessions and drives the chain and price poll loops.
type Service struct {
	cfg      Config
	sessions map[assets.Asset]*Session
	order    []assets.Asset
	prices   PriceSource
	notifier ErrorNotifier

	consecutiveFailures int
}

// New builds a service over the given sessions. notifier may be nil.
func New(cfg Config, sessions []*Session, prices PriceSource, notifier ErrorNotifier) *Service {
	byAsset := make(map[assets.Asset]*Session, len(sessions))
	order := make([]assets.Asset, 0, len(sessions))
	for _, sess := range sessions {
		byAsset[sess.Asset()] = sess
		order = append(order, sess.Asset())
	}
	return &Service{
		cfg:      cfg,
		sessions: byAsset,
		order:    order,
		prices:   prices,
		notifier: notifier,
	}
}

// Session returns the session for the given asset.
func (s *Service) Session(asset assets.Asset) (*Session, bool) {
	sess, ok := s.sessions[asset]
	return sess, ok
}

// Assets returns the tracked assets in configuration order.
func (s *Service) Assets() []assets.Asset {
	out := make([]assets.Asset, len(s.order))
	copy(out, s.order)
	return out
}

// Run drives both poll loops until ctx is cancelled. Chain state and spot
// prices refresh on independent cadences.
func (s *Service) Run(ctx context.Context) {
	chainTicker := time.NewTicker(s.cfg.ChainPollInterval)
	defer chainTicker.Stop()
	priceTicker := time.NewTicker(s.cfg.PricePollInterval)
	defer priceTicker.Stop()

	logger.Info("Starting poll loops (chain: %v, prices: %v, assets: %d)",
		s.cfg.ChainPollInterval, s.cfg.PricePollInterval, len(s.order))

	// Prices first so the initial chain cycle can value collateral.
	s.handleCycleResult(s.refreshPrices(ctx))
	s.handleCycleResult(s.refreshChain(ctx))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Poll loops stopped")
			return

		case <-chainTicker.C:
			logger.Debug("Starting scheduled chain poll")
			s.handleCycleResult(s.refreshChain(ctx))

		case <-priceTicker.C:
			logger.Debug("Starting scheduled price poll")
			s.handleCycleResult(s.refreshPrices(ctx))
		}
	}
}

// refreshChain runs one read cycle for every session.
func (s *Service) refreshChain(ctx context.Context) error {
	start := time.Now()
	var firstErr error
	for _, asset := range s.order {
		if err := s.sessions[asset].Refresh(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	logger.Debug("Chain poll completed in %v", time.Since(start))
	return firstErr
}

// refreshPrices fetches spot prices and fans them out to sessions. Assets
// missing from the response keep their previous price.
func (s *Service) refreshPrices(ctx context.Context) error {
	if s.prices == nil {
		return nil
	}
	got, err := s.prices.Fetch(ctx, s.order)
	if err != nil {
		return err
	}
	for asset, price := range got {
		if sess, ok := s.sessions[asset]; ok {
			sess.SetSpot(price)
		}
	}
	// A partial response is the stale-price case: the missing assets keep
	// their previous spot, and the cycle is not a failure.
	if len(got) == 0 && len(s.order) > 0 {
		return errors.New("price feed returned no prices")
	}
	if len(got) < len(s.order) {
		logger.Warn("Price feed returned %d of %d prices, keeping stale values for the rest", len(got), len(s.order))
	}
	return nil
}

// handleCycleResult tracks consecutive failures and sends a notification on
// the first failure of a sequence and on recovery.
func (s *Service) handleCycleResult(err error) {
	if err != nil {
		s.consecutiveFailures++
		logger.Error("Poll cycle failed: %v", err)
		if s.consecutiveFailures == 1 && s.notifier != nil {
			if sendErr := s.notifier.SendError(err); sendErr != nil {
				logger.Warn("Failed to send error notification: %v", sendErr)
			}
		}
		return
	}
	if s.consecutiveFailures > 0 && s.notifier != nil {
		if sendErr := s.notifier.SendRecovery(s.consecutiveFailures); sendErr != nil {
			logger.Warn("Failed to send recovery notification: %v", sendErr)
		}
	}
	s.consecutiveFailures = 0
}
