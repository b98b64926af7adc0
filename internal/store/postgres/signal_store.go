package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/depthfeed/internal/domain"
)

// SignalStore implements domain.SignalStore using PostgreSQL.
type SignalStore struct {
	pool *pgxpool.Pool
}

// NewSignalStore creates a new SignalStore backed by the given connection pool.
func NewSignalStore(pool *pgxpool.Pool) *SignalStore {
	return &SignalStore{pool: pool}
}

const signalSelectCols = `id::text, segment, security_id, signal_type, strength, confidence,
	reasoning, targets, stop_loss, time_horizon,
	order_flow_imbalance, price_impact, liquidity_score, market_efficiency, volatility,
	generated_at`

// Signal ids are unique, so a record delivered twice is stored once.
const insertSignal = `
	INSERT INTO trading_signals (
		id, segment, security_id, signal_type, strength, confidence,
		reasoning, targets, stop_loss, time_horizon,
		order_flow_imbalance, price_impact, liquidity_score, market_efficiency, volatility,
		generated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6,
		$7, $8, $9, $10,
		$11, $12, $13, $14, $15,
		$16
	) ON CONFLICT (id) DO NOTHING`

func signalArgs(rec domain.SignalRecord) ([]any, error) {
	sig, m := rec.Signal, rec.Metrics
	reasoning, err := json.Marshal(nonNil(sig.Reasoning))
	if err != nil {
		return nil, fmt.Errorf("marshal reasoning: %w", err)
	}
	targets, err := json.Marshal(nonNil(sig.Targets))
	if err != nil {
		return nil, fmt.Errorf("marshal targets: %w", err)
	}
	return []any{
		sig.ID, sig.Segment.String(), int64(sig.InstrumentID), string(sig.Type), sig.Strength, sig.Confidence,
		reasoning, targets, sig.StopLoss, string(sig.Horizon),
		m.OrderFlowImbalance, m.PriceImpact, m.LiquidityScore, m.MarketEfficiency, m.Volatility,
		sig.GeneratedAt,
	}, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Save journals one signal with the metrics it was derived from.
func (s *SignalStore) Save(ctx context.Context, sig domain.TradingSignal, metrics domain.MicrostructureMetrics) error {
	args, err := signalArgs(domain.SignalRecord{Signal: sig, Metrics: metrics})
	if err != nil {
		return fmt.Errorf("postgres: save signal %s: %w", sig.ID, err)
	}
	if _, err := s.pool.Exec(ctx, insertSignal, args...); err != nil {
		return fmt.Errorf("postgres: save signal %s: %w", sig.ID, err)
	}
	return nil
}

// SaveBatch inserts several records in one round trip using a pgx Batch.
func (s *SignalStore) SaveBatch(ctx context.Context, recs []domain.SignalRecord) error {
	if len(recs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, rec := range recs {
		args, err := signalArgs(rec)
		if err != nil {
			return fmt.Errorf("postgres: save signal %s: %w", rec.Signal.ID, err)
		}
		batch.Queue(insertSignal, args...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range recs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert signal batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListRecent returns journaled signals newest first, optionally restricted to
// one instrument.
func (s *SignalStore) ListRecent(ctx context.Context, key *domain.InstrumentKey, opts domain.ListOpts) ([]domain.SignalRecord, error) {
	query := `SELECT ` + signalSelectCols + ` FROM trading_signals WHERE 1=1`
	args := []any{}
	argIdx := 1

	if key != nil {
		query += fmt.Sprintf(" AND segment = $%d AND security_id = $%d", argIdx, argIdx+1)
		args = append(args, key.Segment.String(), int64(key.ID))
		argIdx += 2
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND generated_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND generated_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY generated_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list signals: %w", err)
	}
	defer rows.Close()

	recs, err := scanSignalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan signals: %w", err)
	}
	return recs, nil
}

func scanSignalRows(rows pgx.Rows) ([]domain.SignalRecord, error) {
	var recs []domain.SignalRecord
	for rows.Next() {
		var (
			rec                 domain.SignalRecord
			segment, typ, horiz string
			securityID          int64
			reasoning, targets  []byte
		)
		sig, m := &rec.Signal, &rec.Metrics
		if err := rows.Scan(
			&sig.ID, &segment, &securityID, &typ, &sig.Strength, &sig.Confidence,
			&reasoning, &targets, &sig.StopLoss, &horiz,
			&m.OrderFlowImbalance, &m.PriceImpact, &m.LiquidityScore, &m.MarketEfficiency, &m.Volatility,
			&sig.GeneratedAt,
		); err != nil {
			return nil, err
		}
		if err := sig.Segment.UnmarshalText([]byte(segment)); err != nil {
			return nil, err
		}
		sig.InstrumentID = uint32(securityID)
		sig.Type = domain.SignalType(typ)
		sig.Horizon = domain.TimeHorizon(horiz)
		if err := json.Unmarshal(reasoning, &sig.Reasoning); err != nil {
			return nil, fmt.Errorf("unmarshal reasoning: %w", err)
		}
		if err := json.Unmarshal(targets, &sig.Targets); err != nil {
			return nil, fmt.Errorf("unmarshal targets: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Compile-time interface check.
var _ domain.SignalStore = (*SignalStore)(nil)
