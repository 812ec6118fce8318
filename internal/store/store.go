// Package store persists detected opportunities in an embedded sqlite
// database. Opportunities are written once and never updated; every query
// surface is read-only history.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/croswell/dexarb/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	kind             TEXT    NOT NULL,
	pair             TEXT    NOT NULL,
	buy_venue        TEXT    NOT NULL DEFAULT '',
	buy_price        REAL    NOT NULL DEFAULT 0,
	sell_venue       TEXT    NOT NULL DEFAULT '',
	sell_price       REAL    NOT NULL DEFAULT 0,
	venue            TEXT    NOT NULL DEFAULT '',
	path             TEXT    NOT NULL DEFAULT '',
	input_amount     TEXT    NOT NULL,
	amount_out       TEXT    NOT NULL DEFAULT '',
	amount_back      TEXT    NOT NULL DEFAULT '',
	gross_profit     REAL    NOT NULL,
	fee_cost         REAL    NOT NULL,
	gas_cost         REAL    NOT NULL,
	safety_cost      REAL    NOT NULL,
	net_profit       REAL    NOT NULL,
	net_profit_quote REAL    NOT NULL,
	gas_price        TEXT    NOT NULL DEFAULT '',
	gas_units        INTEGER NOT NULL DEFAULT 0,
	fee_tier_buy     INTEGER NOT NULL DEFAULT 0,
	fee_tier_sell    INTEGER NOT NULL DEFAULT 0,
	block_number     INTEGER NOT NULL,
	detected_at      TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_opportunities_detected_at ON opportunities(detected_at);
CREATE INDEX IF NOT EXISTS idx_opportunities_kind ON opportunities(kind);
`

// Store is a sqlite-backed opportunity archive.
type Store struct {
	db *sql.DB
}

// KindStats aggregates stored opportunities per detection kind.
type KindStats struct {
	Kind         string  `json:"kind"`
	Count        int64   `json:"count"`
	TotalNet     float64 `json:"total_net_profit"`
	MaxNet       float64 `json:"max_net_profit"`
	AvgNet       float64 `json:"avg_net_profit"`
	LastDetected string  `json:"last_detected"`
}

// Open creates or opens the database at path and ensures the schema exists.
// sqlite serializes writers anyway; a single connection avoids SQLITE_BUSY
// churn under the scanner's write bursts.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert archives one opportunity.
func (s *Store) Insert(ctx context.Context, opp *types.Opportunity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO opportunities (
			kind, pair, buy_venue, buy_price, sell_venue, sell_price,
			venue, path, input_amount, amount_out, amount_back,
			gross_profit, fee_cost, gas_cost, safety_cost, net_profit, net_profit_quote,
			gas_price, gas_units, fee_tier_buy, fee_tier_sell, block_number, detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(opp.Kind), opp.Pair, opp.BuyVenue, opp.BuyPrice, opp.SellVenue, opp.SellPrice,
		opp.Venue, strings.Join(opp.Path, ","), bigString(opp.InputAmount), bigString(opp.AmountOut), bigString(opp.AmountBack),
		opp.GrossProfit, opp.FeeCost, opp.GasCost, opp.SafetyCost, opp.NetProfit, opp.NetProfitQuote,
		bigString(opp.GasPrice), opp.GasUnits, opp.FeeTierBuy, opp.FeeTierSell, opp.BlockNumber, opp.DetectedAt,
	)
	if err != nil {
		return fmt.Errorf("store: inserting opportunity: %w", err)
	}
	return nil
}

// Recent returns the newest opportunities, optionally filtered by kind and a
// minimum net profit.
func (s *Store) Recent(ctx context.Context, limit int, kind string, minProfit float64) ([]*types.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT kind, pair, buy_venue, buy_price, sell_venue, sell_price,
		venue, path, input_amount, amount_out, amount_back,
		gross_profit, fee_cost, gas_cost, safety_cost, net_profit, net_profit_quote,
		gas_price, gas_units, fee_tier_buy, fee_tier_sell, block_number, detected_at
		FROM opportunities WHERE net_profit >= ?`
	args := []any{minProfit}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY detected_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: querying opportunities: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Profitable returns the stored opportunities above the threshold, best
// first.
func (s *Store) Profitable(ctx context.Context, threshold float64, limit int) ([]*types.Opportunity, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT kind, pair, buy_venue, buy_price, sell_venue, sell_price,
		venue, path, input_amount, amount_out, amount_back,
		gross_profit, fee_cost, gas_cost, safety_cost, net_profit, net_profit_quote,
		gas_price, gas_units, fee_tier_buy, fee_tier_sell, block_number, detected_at
		FROM opportunities WHERE net_profit > ?
		ORDER BY net_profit DESC LIMIT ?`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying profitable: %w", err)
	}
	defer rows.Close()
	return scanRows(rows)
}

// Count returns the total number of stored opportunities.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM opportunities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: counting opportunities: %w", err)
	}
	return n, nil
}

// StatsByKind aggregates the archive per detection kind.
func (s *Store) StatsByKind(ctx context.Context) ([]KindStats, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*), SUM(net_profit), MAX(net_profit), AVG(net_profit), MAX(detected_at)
		FROM opportunities GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, fmt.Errorf("store: querying stats: %w", err)
	}
	defer rows.Close()

	var stats []KindStats
	for rows.Next() {
		var st KindStats
		if err := rows.Scan(&st.Kind, &st.Count, &st.TotalNet, &st.MaxNet, &st.AvgNet, &st.LastDetected); err != nil {
			return nil, fmt.Errorf("store: scanning stats row: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// HourStats aggregates stored opportunities per detection hour (UTC).
type HourStats struct {
	Hour     string  `json:"hour"`
	Count    int64   `json:"count"`
	TotalNet float64 `json:"total_net_profit"`
	MaxNet   float64 `json:"max_net_profit"`
}

// StatsHourly buckets the trailing window of the archive by detection hour,
// oldest bucket first. Hours without detections are absent.
func (s *Store) StatsHourly(ctx context.Context, hours int) ([]HourStats, error) {
	if hours <= 0 {
		hours = 24
	}
	rows, err := s.db.QueryContext(ctx, `SELECT strftime('%Y-%m-%dT%H:00:00Z', detected_at) AS hour,
		COUNT(*), SUM(net_profit), MAX(net_profit)
		FROM opportunities
		WHERE datetime(detected_at) >= datetime('now', ?)
		GROUP BY hour ORDER BY hour`, fmt.Sprintf("-%d hours", hours))
	if err != nil {
		return nil, fmt.Errorf("store: querying hourly stats: %w", err)
	}
	defer rows.Close()

	var stats []HourStats
	for rows.Next() {
		var st HourStats
		if err := rows.Scan(&st.Hour, &st.Count, &st.TotalNet, &st.MaxNet); err != nil {
			return nil, fmt.Errorf("store: scanning hourly stats row: %w", err)
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

func scanRows(rows *sql.Rows) ([]*types.Opportunity, error) {
	var opps []*types.Opportunity
	for rows.Next() {
		var (
			opp                    types.Opportunity
			kind, path             string
			inputAmount, amountOut string
			amountBack, gasPrice   string
			detectedAt             time.Time
		)
		if err := rows.Scan(&kind, &opp.Pair, &opp.BuyVenue, &opp.BuyPrice, &opp.SellVenue, &opp.SellPrice,
			&opp.Venue, &path, &inputAmount, &amountOut, &amountBack,
			&opp.GrossProfit, &opp.FeeCost, &opp.GasCost, &opp.SafetyCost, &opp.NetProfit, &opp.NetProfitQuote,
			&gasPrice, &opp.GasUnits, &opp.FeeTierBuy, &opp.FeeTierSell, &opp.BlockNumber, &detectedAt); err != nil {
			return nil, fmt.Errorf("store: scanning row: %w", err)
		}
		opp.Kind = types.OpportunityKind(kind)
		if path != "" {
			opp.Path = strings.Split(path, ",")
		}
		opp.InputAmount = parseBig(inputAmount)
		opp.AmountOut = parseBig(amountOut)
		opp.AmountBack = parseBig(amountBack)
		opp.GasPrice = parseBig(gasPrice)
		opp.DetectedAt = detectedAt
		opps = append(opps, &opp)
	}
	return opps, rows.Err()
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBig(s string) *big.Int {
	if s == "" {
		return nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return v
}
