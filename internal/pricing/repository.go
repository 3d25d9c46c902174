package pricing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxRepository exposes price persistence inside one transaction so an
// approval deactivates old prices, inserts the new ones and flips the
// analysis status atomically.
type TxRepository interface {
	AnalysisForUpdate(ctx context.Context, analysisID int64) (Analysis, error)
	LinesByAnalysis(ctx context.Context, analysisID int64) ([]AnalysisLine, error)
	DeactivatePrices(ctx context.Context, productID int64) error
	InsertPriceHistory(ctx context.Context, record PriceHistory) (int64, error)
	MarkAnalysisApproved(ctx context.Context, analysisID int64, at time.Time) error
}

// Repository persists price analyses and history in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const analysisColumns = `id, proration_id, status, created_at, COALESCE(approved_at, 'epoch')`

func scanAnalysis(row pgx.Row) (Analysis, error) {
	var a Analysis
	err := row.Scan(&a.ID, &a.ProrationID, &a.Status, &a.CreatedAt, &a.ApprovedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Analysis{}, ErrAnalysisNotFound
	}
	return a, err
}

// CreateAnalysis inserts a pending analysis with its lines.
func (r *Repository) CreateAnalysis(ctx context.Context, a Analysis, lines []AnalysisLine) (Analysis, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Analysis{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `INSERT INTO price_analyses (proration_id, status, created_at)
VALUES ($1,$2,NOW()) RETURNING id, created_at`, a.ProrationID, StatusPending).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return Analysis{}, err
	}
	for _, line := range lines {
		if _, err := tx.Exec(ctx, `INSERT INTO price_analysis_lines (analysis_id, product_id, cost, utility, sale_price)
VALUES ($1,$2,$3,$4,$5)`, a.ID, line.ProductID, line.Cost, line.Utility, line.SalePrice); err != nil {
			return Analysis{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return Analysis{}, err
	}
	a.Status = StatusPending
	return a, nil
}

// Analysis returns one analysis by id.
func (r *Repository) Analysis(ctx context.Context, analysisID int64) (Analysis, error) {
	return scanAnalysis(r.pool.QueryRow(ctx, `SELECT `+analysisColumns+` FROM price_analyses WHERE id=$1`, analysisID))
}

// Lines returns the analysis lines ordered by id.
func (r *Repository) Lines(ctx context.Context, analysisID int64) ([]AnalysisLine, error) {
	return queryAnalysisLines(ctx, r.pool, analysisID)
}

// Line returns one analysis line by id.
func (r *Repository) Line(ctx context.Context, lineID int64) (AnalysisLine, error) {
	var l AnalysisLine
	err := r.pool.QueryRow(ctx, `SELECT id, analysis_id, product_id, cost, utility, sale_price
FROM price_analysis_lines WHERE id=$1`, lineID).Scan(&l.ID, &l.AnalysisID, &l.ProductID, &l.Cost, &l.Utility, &l.SalePrice)
	if errors.Is(err, pgx.ErrNoRows) {
		return AnalysisLine{}, ErrLineNotFound
	}
	return l, err
}

// SetLineUtility stores an edited margin and the recomputed price.
func (r *Repository) SetLineUtility(ctx context.Context, lineID int64, utility, salePrice decimal.Decimal) error {
	tag, err := r.pool.Exec(ctx, `UPDATE price_analysis_lines SET utility=$2, sale_price=$3 WHERE id=$1`,
		lineID, utility, salePrice)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLineNotFound
	}
	return nil
}

// ActivePrice returns the product's single active price.
func (r *Repository) ActivePrice(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT price FROM price_history WHERE product_id=$1 AND active`, productID).Scan(&price)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrNoActivePrice
	}
	return price, err
}

// ActivePrices lists every product's active price, used by the cache warmup.
func (r *Repository) ActivePrices(ctx context.Context) (map[int64]decimal.Decimal, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, price FROM price_history WHERE active`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	prices := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var productID int64
		var price decimal.Decimal
		if err := rows.Scan(&productID, &price); err != nil {
			return nil, err
		}
		prices[productID] = price
	}
	return prices, rows.Err()
}

// History lists a product's price records, newest first.
func (r *Repository) History(ctx context.Context, productID int64) ([]PriceHistory, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, price, active, created_at
FROM price_history WHERE product_id=$1 ORDER BY created_at DESC, id DESC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	records := []PriceHistory{}
	for rows.Next() {
		var rec PriceHistory
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Price, &rec.Active, &rec.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *txRepository) AnalysisForUpdate(ctx context.Context, analysisID int64) (Analysis, error) {
	return scanAnalysis(r.tx.QueryRow(ctx, `SELECT `+analysisColumns+` FROM price_analyses WHERE id=$1 FOR UPDATE`, analysisID))
}

func (r *txRepository) LinesByAnalysis(ctx context.Context, analysisID int64) ([]AnalysisLine, error) {
	return queryAnalysisLines(ctx, r.tx, analysisID)
}

func (r *txRepository) DeactivatePrices(ctx context.Context, productID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE price_history SET active=false WHERE product_id=$1 AND active`, productID)
	return err
}

func (r *txRepository) InsertPriceHistory(ctx context.Context, record PriceHistory) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO price_history (product_id, price, active, created_at)
VALUES ($1,$2,true,NOW()) RETURNING id`, record.ProductID, record.Price).Scan(&id)
	return id, err
}

func (r *txRepository) MarkAnalysisApproved(ctx context.Context, analysisID int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE price_analyses SET status=$2, approved_at=$3 WHERE id=$1`,
		analysisID, StatusApproved, at)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryAnalysisLines(ctx context.Context, q querier, analysisID int64) ([]AnalysisLine, error) {
	rows, err := q.Query(ctx, `SELECT id, analysis_id, product_id, cost, utility, sale_price
FROM price_analysis_lines WHERE analysis_id=$1 ORDER BY id`, analysisID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []AnalysisLine{}
	for rows.Next() {
		var l AnalysisLine
		if err := rows.Scan(&l.ID, &l.AnalysisID, &l.ProductID, &l.Cost, &l.Utility, &l.SalePrice); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}
