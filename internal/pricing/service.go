package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bodega-erp/bodega-erp/internal/proration"
	"github.com/bodega-erp/bodega-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	CreateAnalysis(ctx context.Context, a Analysis, lines []AnalysisLine) (Analysis, error)
	Analysis(ctx context.Context, analysisID int64) (Analysis, error)
	Lines(ctx context.Context, analysisID int64) ([]AnalysisLine, error)
	Line(ctx context.Context, lineID int64) (AnalysisLine, error)
	SetLineUtility(ctx context.Context, lineID int64, utility, salePrice decimal.Decimal) error
	ActivePrice(ctx context.Context, productID int64) (decimal.Decimal, error)
	ActivePrices(ctx context.Context) (map[int64]decimal.Decimal, error)
	History(ctx context.Context, productID int64) ([]PriceHistory, error)
}

// ProrationReader reads computed proration items to seed an analysis.
type ProrationReader interface {
	Items(ctx context.Context, prorationID int64) ([]proration.Item, error)
}

// Service implements the pricing workflow: analyses proposed from landed
// costs, approval activating exactly one price per product.
type Service struct {
	logger     *slog.Logger
	repo       RepositoryPort
	prorations ProrationReader
	cache      *Cache
	machine    *shared.Machine
	audit      shared.AuditPort
}

// NewService builds Service.
func NewService(logger *slog.Logger, repo RepositoryPort, prorations ProrationReader, cache *Cache, audit shared.AuditPort) *Service {
	return &Service{
		logger:     logger,
		repo:       repo,
		prorations: prorations,
		cache:      cache,
		machine:    AnalysisMachine(),
		audit:      audit,
	}
}

// CreateAnalysis proposes prices for a computed proration. Each item becomes
// a line with its prorated unit cost, the default utility and the derived
// sale price.
func (s *Service) CreateAnalysis(ctx context.Context, prorationID int64) (Analysis, []AnalysisLine, error) {
	items, err := s.prorations.Items(ctx, prorationID)
	if err != nil {
		return Analysis{}, nil, err
	}
	if len(items) == 0 {
		return Analysis{}, nil, ErrNoLines
	}
	lines := make([]AnalysisLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, AnalysisLine{
			ProductID: item.ProductID,
			Cost:      item.ProratedUnitCost,
			Utility:   DefaultUtility,
			SalePrice: SalePrice(item.ProratedUnitCost, DefaultUtility),
		})
	}
	analysis, err := s.repo.CreateAnalysis(ctx, Analysis{ProrationID: prorationID}, lines)
	if err != nil {
		return Analysis{}, nil, err
	}
	stored, err := s.repo.Lines(ctx, analysis.ID)
	if err != nil {
		return Analysis{}, nil, err
	}
	return analysis, stored, nil
}

// Analysis returns an analysis with its lines.
func (s *Service) Analysis(ctx context.Context, analysisID int64) (Analysis, []AnalysisLine, error) {
	analysis, err := s.repo.Analysis(ctx, analysisID)
	if err != nil {
		return Analysis{}, nil, err
	}
	lines, err := s.repo.Lines(ctx, analysisID)
	if err != nil {
		return Analysis{}, nil, err
	}
	return analysis, lines, nil
}

// SetUtility edits a pending line's margin and recomputes its price.
func (s *Service) SetUtility(ctx context.Context, lineID int64, utility decimal.Decimal) (AnalysisLine, error) {
	if utility.IsNegative() {
		return AnalysisLine{}, ErrInvalidUtility
	}
	line, err := s.repo.Line(ctx, lineID)
	if err != nil {
		return AnalysisLine{}, err
	}
	analysis, err := s.repo.Analysis(ctx, line.AnalysisID)
	if err != nil {
		return AnalysisLine{}, err
	}
	if analysis.Status != StatusPending {
		return AnalysisLine{}, ErrAnalysisApproved
	}
	line.Utility = utility
	line.SalePrice = SalePrice(line.Cost, utility)
	if err := s.repo.SetLineUtility(ctx, lineID, line.Utility, line.SalePrice); err != nil {
		return AnalysisLine{}, err
	}
	return line, nil
}

// Approve activates every line's price. Per product the prior active price
// row is deactivated with a single update and a fresh active row inserted;
// the whole approval commits in one transaction, so at most one active price
// per product is observable at any time. Cached prices are invalidated after
// commit.
func (s *Service) Approve(ctx context.Context, analysisID, actorID int64) (Analysis, error) {
	var (
		analysis Analysis
		lines    []AnalysisLine
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		analysis, err = tx.AnalysisForUpdate(ctx, analysisID)
		if err != nil {
			return err
		}
		if err := s.machine.Guard(analysis.Status, StatusApproved); err != nil {
			return err
		}
		lines, err = tx.LinesByAnalysis(ctx, analysisID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}
		for _, line := range lines {
			if err := tx.DeactivatePrices(ctx, line.ProductID); err != nil {
				return err
			}
			if _, err := tx.InsertPriceHistory(ctx, PriceHistory{ProductID: line.ProductID, Price: line.SalePrice}); err != nil {
				return err
			}
		}
		now := time.Now().UTC()
		if err := tx.MarkAnalysisApproved(ctx, analysisID, now); err != nil {
			return err
		}
		analysis.Status = StatusApproved
		analysis.ApprovedAt = now
		return nil
	})
	if err != nil {
		return Analysis{}, err
	}

	for _, line := range lines {
		if err := s.cache.Invalidate(ctx, line.ProductID); err != nil {
			s.logger.Warn("price cache invalidation failed",
				slog.Int64("product_id", line.ProductID),
				slog.Any("error", err))
		}
	}
	s.logger.Info("price analysis approved",
		slog.Int64("analysis_id", analysis.ID),
		slog.Int("products", len(lines)))
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "pricing:approve",
			Entity:   "price_analysis",
			EntityID: shared.DocumentCode("PRC", analysis.CreatedAt, analysis.ID),
			Meta:     map[string]any{"analysis_id": analysis.ID},
		})
	}
	return analysis, nil
}

// ActivePrice returns the product's active price through the cache.
func (s *Service) ActivePrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	return s.cache.ActivePrice(ctx, productID, func(ctx context.Context) (decimal.Decimal, error) {
		return s.repo.ActivePrice(ctx, productID)
	})
}

// History returns a product's price records, newest first.
func (s *Service) History(ctx context.Context, productID int64) ([]PriceHistory, error) {
	return s.repo.History(ctx, productID)
}

// WarmCache pushes every active price into the cache.
func (s *Service) WarmCache(ctx context.Context) (int, error) {
	prices, err := s.repo.ActivePrices(ctx)
	if err != nil {
		return 0, err
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for productID, price := range prices {
		productID, price := productID, price
		g.Go(func() error {
			return s.cache.Warm(ctx, productID, price)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(prices), nil
}
