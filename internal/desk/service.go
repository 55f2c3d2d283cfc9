// Package desk is the trading desk: it turns trade tickets into book
// positions, evaluates the book for display and pushes snapshots to every
// registered publisher after each change.
package desk

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rzzdr/options-risk-desk/config"
	"github.com/rzzdr/options-risk-desk/internal/portfolio"
	"github.com/rzzdr/options-risk-desk/internal/pricing"
	"github.com/rzzdr/options-risk-desk/pkg/metrics"
	"github.com/rzzdr/options-risk-desk/pkg/models"
	"github.com/rzzdr/options-risk-desk/pkg/utils/errors"
	"github.com/rzzdr/options-risk-desk/pkg/utils/logger"
)

// Publisher receives a snapshot after every book change
type Publisher interface {
	Name() string
	Publish(ctx context.Context, snapshot *models.DeskSnapshot) error
}

// Service owns the aggregator and the trade defaults
type Service struct {
	agg        *portfolio.Aggregator
	defaults   config.TradeDefaults
	recorder   *metrics.Recorder
	publishers []Publisher
	log        *logger.Logger

	// mu serializes book changes with the snapshot they produce, so sequence
	// numbers follow the order the book actually changed in.
	mu       sync.Mutex
	sequence uint64
	lastSpot float64
}

// NewService creates a desk around agg
func NewService(agg *portfolio.Aggregator, defaults config.TradeDefaults, recorder *metrics.Recorder) *Service {
	return &Service{
		agg:      agg,
		defaults: defaults,
		recorder: recorder,
		log:      logger.GetLogger("desk.service"),
		lastSpot: defaults.Spot,
	}
}

// AddPublisher registers a snapshot sink. Call before serving traffic.
func (s *Service) AddPublisher(p Publisher) {
	s.publishers = append(s.publishers, p)
}

// Defaults returns the trade defaults applied to unset ticket fields
func (s *Service) Defaults() config.TradeDefaults {
	return s.defaults
}

// Grid returns the spot grid the book is evaluated on
func (s *Service) Grid() *portfolio.SpotGrid {
	return s.agg.Grid()
}

// SubmitTrade books a ticket. Rejected tickets leave the book untouched and
// come back with Accepted=false, the reason, and the typed error.
func (s *Service) SubmitTrade(ctx context.Context, req models.TradeRequest) (models.TradeResult, error) {
	spot, position, err := s.buildPosition(req)
	if err != nil {
		s.recorder.RecordTradeRejected(errors.TypeOf(err).String())
		s.log.Warnf("Rejected trade: %v", err)
		return models.TradeResult{Accepted: false, Reason: err.Error()}, err
	}

	s.mu.Lock()
	s.agg.AddPosition(position)
	s.lastSpot = spot
	snapshot := s.snapshotLocked(models.EventTrade, spot, true)
	s.mu.Unlock()

	s.recorder.RecordTradeAccepted(string(position.Kind()), string(position.Side()), len(snapshot.Book))
	s.log.Infow("Booked trade",
		"id", position.ID(),
		"kind", position.Kind(),
		"side", position.Side(),
		"strike", position.Contract().Strike,
		"quantity", position.Quantity(),
		"entry_price", position.EntryPrice(),
	)

	s.publish(ctx, snapshot)

	row := bookRow(position, spot)
	return models.TradeResult{Accepted: true, Position: &row}, nil
}

// Flatten empties the book and publishes the resulting snapshot
func (s *Service) Flatten(ctx context.Context) int {
	s.mu.Lock()
	removed := s.agg.Flatten()
	snapshot := s.snapshotLocked(models.EventFlatten, s.lastSpot, true)
	s.mu.Unlock()

	s.recorder.RecordFlatten()
	s.log.Infof("Flattened book, %d positions removed", removed)

	s.publish(ctx, snapshot)
	return removed
}

// Refresh republishes the current book at the last traded spot
func (s *Service) Refresh(ctx context.Context) {
	s.mu.Lock()
	snapshot := s.snapshotLocked(models.EventRefresh, s.lastSpot, false)
	s.mu.Unlock()

	s.publish(ctx, snapshot)
}

// HandleCommand applies a bus command to the book
func (s *Service) HandleCommand(ctx context.Context, cmd models.DeskCommand) error {
	switch cmd.Type {
	case models.CommandTrade:
		if cmd.Trade == nil {
			return errors.InvalidArgument("trade command carries no trade")
		}
		_, err := s.SubmitTrade(ctx, *cmd.Trade)
		return err
	case models.CommandFlatten:
		s.Flatten(ctx)
		return nil
	}
	return errors.InvalidArgumentf("unknown command type %q", cmd.Type)
}

// Book lists every position with its PnL marked at spot
func (s *Service) Book(spot float64) ([]models.BookRow, error) {
	if err := checkSpot(spot); err != nil {
		return nil, err
	}
	return bookRows(s.agg.Positions(), spot), nil
}

// Risk summarizes the book at spot
func (s *Service) Risk(spot float64) (models.RiskSummary, error) {
	if err := checkSpot(spot); err != nil {
		return models.RiskSummary{}, err
	}
	snap := s.evaluate()
	return riskSummary(s.agg.Grid(), snap, spot), nil
}

// Curves evaluates the book across the grid
func (s *Service) Curves() models.CurveBundle {
	return curveBundle(s.agg.Grid(), s.evaluate())
}

// Snapshot reads book, risk and curves from one consistent view of the book
func (s *Service) Snapshot(spot float64) (*models.DeskSnapshot, error) {
	if err := checkSpot(spot); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(models.EventRefresh, spot, false), nil
}

// Quote values a contract at spot without touching the book
func (s *Service) Quote(spot float64, c pricing.Contract) (models.Quote, error) {
	if err := checkSpot(spot); err != nil {
		return models.Quote{}, err
	}
	// gamma divides by spot
	if spot == 0 {
		return models.Quote{}, errors.InvalidArgument("quote spot must be positive")
	}
	if err := c.Validate(); err != nil {
		return models.Quote{}, err
	}

	v := pricing.Evaluate(spot, c)
	return models.Quote{
		Kind:       string(c.Kind),
		Spot:       spot,
		Strike:     c.Strike,
		Volatility: c.Volatility,
		Rate:       c.Rate,
		Maturity:   c.Maturity,
		Price:      v.Price,
		Delta:      v.Delta,
		Gamma:      v.Gamma,
		Vega:       v.Vega,
		Theta:      v.Theta,
		Rho:        v.Rho,
	}, nil
}

// QuoteRequest fills a quote ticket from the defaults and values it
func (s *Service) QuoteRequest(req models.QuoteRequest) (models.Quote, error) {
	spot, c, err := s.resolveContract(req.Spot, req.Kind, req.Strike, req.Volatility, req.Rate, req.Maturity)
	if err != nil {
		return models.Quote{}, err
	}
	return s.Quote(spot, c)
}

func (s *Service) buildPosition(req models.TradeRequest) (float64, *portfolio.OptionPosition, error) {
	spot, contract, err := s.resolveContract(req.Spot, req.Kind, req.Strike, req.Volatility, req.Rate, req.Maturity)
	if err != nil {
		return 0, nil, err
	}

	sideName := req.Side
	if sideName == "" {
		sideName = s.defaults.Side
	}
	side, err := portfolio.ParseSide(sideName)
	if err != nil {
		return 0, nil, err
	}

	quantity := s.defaults.Quantity
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	entry := 0.0
	if req.EntryPrice != nil {
		entry = *req.EntryPrice
		if math.IsNaN(entry) || math.IsInf(entry, 0) {
			return 0, nil, errors.InvalidArgumentf("entry price must be finite, got %v", entry)
		}
		if entry < 0 {
			return 0, nil, errors.InvalidArgumentf("entry price must not be negative, got %v", entry)
		}
	}

	if err := contract.Validate(); err != nil {
		return 0, nil, err
	}
	if entry == 0 {
		entry = pricing.Price(spot, contract)
	}

	position, err := portfolio.NewPosition(contract, side, quantity, entry)
	if err != nil {
		return 0, nil, err
	}
	return spot, position, nil
}

// resolveContract applies the defaults to unset fields. An unset strike
// means at-the-money, so it follows the resolved spot.
func (s *Service) resolveContract(spotIn *float64, kindIn string, strikeIn, volIn, rateIn, maturityIn *float64) (float64, pricing.Contract, error) {
	spot := valueOr(spotIn, s.defaults.Spot)
	if err := checkSpot(spot); err != nil {
		return 0, pricing.Contract{}, err
	}

	kindName := kindIn
	if kindName == "" {
		kindName = s.defaults.Kind
	}
	kind, err := pricing.ParseOptionKind(kindName)
	if err != nil {
		return 0, pricing.Contract{}, err
	}

	return spot, pricing.Contract{
		Kind:       kind,
		Strike:     valueOr(strikeIn, spot),
		Volatility: valueOr(volIn, s.defaults.Volatility),
		Rate:       valueOr(rateIn, s.defaults.Rate),
		Maturity:   valueOr(maturityIn, s.defaults.Maturity),
	}, nil
}

func valueOr(v *float64, fallback float64) float64 {
	if v == nil {
		return fallback
	}
	return *v
}

func checkSpot(spot float64) error {
	if math.IsNaN(spot) || math.IsInf(spot, 0) {
		return errors.InvalidArgumentf("spot must be finite, got %v", spot)
	}
	if spot < 0 {
		return errors.InvalidArgumentf("spot must not be negative, got %v", spot)
	}
	return nil
}

func (s *Service) evaluate() portfolio.Snapshot {
	start := time.Now()
	snap := s.agg.Snapshot()
	s.recorder.RecordCurveEvaluation(time.Since(start))
	return snap
}

// snapshotLocked builds a snapshot; bump advances the sequence for book changes.
func (s *Service) snapshotLocked(event string, spot float64, bump bool) *models.DeskSnapshot {
	if bump {
		s.sequence++
	}
	snap := s.evaluate()
	grid := s.agg.Grid()

	return &models.DeskSnapshot{
		Sequence:  s.sequence,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Spot:      spot,
		Book:      bookRows(snap.Positions, spot),
		Risk:      riskSummary(grid, snap, spot),
		Curves:    curveBundle(grid, snap),
	}
}

// publish fans the snapshot out to every publisher. Failures are logged and
// counted; the book change that produced the snapshot stands.
func (s *Service) publish(ctx context.Context, snapshot *models.DeskSnapshot) {
	if len(s.publishers) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range s.publishers {
		g.Go(func() error {
			err := p.Publish(gctx, snapshot)
			s.recorder.RecordSnapshotPublished(p.Name(), err)
			if err != nil {
				s.log.Errorf("Failed to publish snapshot %d to %s: %v", snapshot.Sequence, p.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func bookRow(p *portfolio.OptionPosition, spot float64) models.BookRow {
	c := p.Contract()
	return models.BookRow{
		ID:         p.ID(),
		Kind:       string(c.Kind),
		Side:       string(p.Side()),
		Strike:     c.Strike,
		Quantity:   p.Quantity(),
		Volatility: c.Volatility,
		Rate:       c.Rate,
		Maturity:   c.Maturity,
		EntryPrice: p.EntryPrice(),
		Premium:    p.Premium(),
		PnL:        p.PnL(spot),
		OpenedAt:   p.OpenedAt(),
	}
}

func bookRows(positions []*portfolio.OptionPosition, spot float64) []models.BookRow {
	rows := make([]models.BookRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, bookRow(p, spot))
	}
	return rows
}

func riskSummary(grid *portfolio.SpotGrid, snap portfolio.Snapshot, spot float64) models.RiskSummary {
	totals := snap.Curves.Totals()
	at := snap.Curves.At(grid.IndexOf(spot))

	return models.RiskSummary{
		Spot:      spot,
		Positions: len(snap.Positions),
		PnL:       portfolio.ValueAt(grid, snap.Curves.PnL, spot),
		Delta:     totals.Delta,
		Gamma:     totals.Gamma,
		Vega:      totals.Vega,
		Theta:     totals.Theta,
		Rho:       totals.Rho,
		AtSpot: models.GreekValues{
			PnL:   at.PnL,
			Delta: at.Delta,
			Gamma: at.Gamma,
			Vega:  at.Vega,
			Theta: at.Theta,
			Rho:   at.Rho,
		},
	}
}

func curveBundle(grid *portfolio.SpotGrid, snap portfolio.Snapshot) models.CurveBundle {
	strikes := make([]float64, 0, len(snap.Positions))
	for _, p := range snap.Positions {
		strikes = append(strikes, p.Contract().Strike)
	}

	return models.CurveBundle{
		Grid:    grid.Points(),
		PnL:     snap.Curves.PnL,
		Delta:   snap.Curves.Delta,
		Gamma:   snap.Curves.Gamma,
		Vega:    snap.Curves.Vega,
		Theta:   snap.Curves.Theta,
		Rho:     snap.Curves.Rho,
		Strikes: strikes,
	}
}
