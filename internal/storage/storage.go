// Package storage provides SQLite-backed persistence for chain reads, risk
// history, and intent records.
package storage

import (
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/boro-labs/borod/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db         *sql.DB
	historyCap int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/borod/data.db.
func New(historyCap int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "borod", "data.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, historyCap: historyCap}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS market_reads (
			asset               TEXT PRIMARY KEY,
			market_id           TEXT NOT NULL,
			total_supply_assets TEXT NOT NULL,
			total_supply_shares TEXT NOT NULL,
			total_borrow_assets TEXT NOT NULL,
			total_borrow_shares TEXT NOT NULL,
			max_ltv             TEXT NOT NULL,
			oracle              TEXT NOT NULL,
			irm                 TEXT NOT NULL,
			read_at             INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS position_reads (
			asset         TEXT PRIMARY KEY,
			market_id     TEXT NOT NULL,
			account       TEXT NOT NULL,
			supply_shares TEXT NOT NULL,
			borrow_shares TEXT NOT NULL,
			collateral    TEXT NOT NULL,
			read_at       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS risk_history (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			asset              TEXT NOT NULL,
			collateral_amount  TEXT NOT NULL,
			collateral_value   TEXT NOT NULL,
			debt_value         TEXT NOT NULL,
			ltv_percent        TEXT NOT NULL,
			health_ratio       TEXT NOT NULL,
			health             INTEGER NOT NULL,
			liquidation_price  TEXT NOT NULL,
			spot_price         TEXT NOT NULL,
			computed_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_risk_history_asset ON risk_history(asset, computed_at DESC)`,
		`CREATE TABLE IF NOT EXISTS intents (
			id           TEXT PRIMARY KEY,
			asset        TEXT NOT NULL,
			kind         TEXT NOT NULL,
			full_close   INTEGER NOT NULL DEFAULT 0,
			amount       TEXT,
			tx_hash      TEXT,
			status       TEXT NOT NULL,
			reason       TEXT,
			submitted_at INTEGER NOT NULL,
			settled_at   INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_submitted ON intents(submitted_at DESC)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveMarketRead upserts the latest market read for asset.
func (s *Storage) SaveMarketRead(asset string, m *models.MarketState) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid market read: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO market_reads
			(asset, market_id, total_supply_assets, total_supply_shares,
			 total_borrow_assets, total_borrow_shares, max_ltv, oracle, irm, read_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		asset, m.ID.Hex(),
		bigText(m.TotalSupplyAssets), bigText(m.TotalSupplyShares),
		bigText(m.TotalBorrowAssets), bigText(m.TotalBorrowShares),
		m.MaxLTV.String(), m.Oracle.Hex(), m.IRM.Hex(), m.ReadAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save market read: %w", err)
	}
	return nil
}

// LoadMarketRead returns the latest persisted market read for asset, or nil
// when none exists.
func (s *Storage) LoadMarketRead(asset string) (*models.MarketState, error) {
	row := s.db.QueryRow(`
		SELECT market_id, total_supply_assets, total_supply_shares,
		       total_borrow_assets, total_borrow_shares, max_ltv, oracle, irm, read_at
		FROM market_reads WHERE asset = ?`, asset)

	var (
		id, tsa, tss, tba, tbs, maxLTV, oracle, irm string
		readAtNano                                  int64
	)
	err := row.Scan(&id, &tsa, &tss, &tba, &tbs, &maxLTV, &oracle, &irm, &readAtNano)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load market read: %w", err)
	}

	ltv, err := decimal.NewFromString(maxLTV)
	if err != nil {
		return nil, fmt.Errorf("failed to parse max LTV: %w", err)
	}
	return &models.MarketState{
		ID:                common.HexToHash(id),
		TotalSupplyAssets: textBig(tsa),
		TotalSupplyShares: textBig(tss),
		TotalBorrowAssets: textBig(tba),
		TotalBorrowShares: textBig(tbs),
		MaxLTV:            ltv,
		Oracle:            common.HexToAddress(oracle),
		IRM:               common.HexToAddress(irm),
		ReadAt:            time.Unix(0, readAtNano),
	}, nil
}

// SavePositionRead upserts the latest position read for asset.
func (s *Storage) SavePositionRead(asset string, p *models.PositionState) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid position read: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO position_reads
			(asset, market_id, account, supply_shares, borrow_shares, collateral, read_at)
		VALUES (?,?,?,?,?,?,?)`,
		asset, p.MarketID.Hex(), p.Account.Hex(),
		bigText(p.SupplyShares), bigText(p.BorrowShares), bigText(p.Collateral),
		p.ReadAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save position read: %w", err)
	}
	return nil
}

// LoadPositionRead returns the latest persisted position read for asset, or
// nil when none exists.
func (s *Storage) LoadPositionRead(asset string) (*models.PositionState, error) {
	row := s.db.QueryRow(`
		SELECT market_id, account, supply_shares, borrow_shares, collateral, read_at
		FROM position_reads WHERE asset = ?`, asset)

	var (
		id, account, ss, bs, coll string
		readAtNano                int64
	)
	err := row.Scan(&id, &account, &ss, &bs, &coll, &readAtNano)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load position read: %w", err)
	}

	return &models.PositionState{
		MarketID:     common.HexToHash(id),
		Account:      common.HexToAddress(account),
		SupplyShares: textBig(ss),
		BorrowShares: textBig(bs),
		Collateral:   textBig(coll),
		ReadAt:       time.Unix(0, readAtNano),
	}, nil
}

// AddRiskSnapshot appends a risk snapshot and trims the per-asset history to
// the configured cap.
func (s *Storage) AddRiskSnapshot(asset string, snap *models.RiskSnapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO risk_history
			(asset, collateral_amount, collateral_value, debt_value, ltv_percent,
			 health_ratio, health, liquidation_price, spot_price, computed_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		asset,
		snap.CollateralAmount.String(), snap.CollateralValue.String(),
		snap.DebtValue.String(), snap.LTVPercent.String(),
		snap.HealthRatio.String(), int(snap.Health),
		snap.LiquidationPrice.String(), snap.SpotPrice.String(),
		snap.ComputedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert risk snapshot: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM risk_history WHERE asset = ? AND id NOT IN (
			SELECT id FROM risk_history WHERE asset = ? ORDER BY computed_at DESC LIMIT ?
		)`, asset, asset, s.historyCap); err != nil {
		return fmt.Errorf("failed to enforce history cap: %w", err)
	}

	return tx.Commit()
}

// RiskHistory returns up to limit snapshots for asset, newest first.
func (s *Storage) RiskHistory(asset string, limit int) ([]models.RiskSnapshot, error) {
	rows, err := s.db.Query(`
		SELECT collateral_amount, collateral_value, debt_value, ltv_percent,
		       health_ratio, health, liquidation_price, spot_price, computed_at
		FROM risk_history WHERE asset = ? ORDER BY computed_at DESC LIMIT ?`,
		asset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk history: %w", err)
	}
	defer rows.Close()

	snaps := []models.RiskSnapshot{}
	for rows.Next() {
		var (
			ca, cv, dv, ltv, hr, lp, sp string
			health                      int
			computedAtNano              int64
		)
		if err := rows.Scan(&ca, &cv, &dv, &ltv, &hr, &health, &lp, &sp, &computedAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan risk snapshot: %w", err)
		}
		snap := models.RiskSnapshot{
			CollateralAmount: textDecimal(ca),
			CollateralValue:  textDecimal(cv),
			DebtValue:        textDecimal(dv),
			LTVPercent:       textDecimal(ltv),
			HealthRatio:      textDecimal(hr),
			Health:           models.HealthLabel(health),
			LiquidationPrice: textDecimal(lp),
			SpotPrice:        textDecimal(sp),
			ComputedAt:       time.Unix(0, computedAtNano),
		}
		snap.HealthName = snap.Health.String()
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// SaveIntent upserts an intent record by ID.
func (s *Storage) SaveIntent(in *models.Intent) error {
	var settledAt any
	if !in.SettledAt.IsZero() {
		settledAt = in.SettledAt.UnixNano()
	}
	var txHash string
	if in.TxHash != (common.Hash{}) {
		txHash = in.TxHash.Hex()
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO intents
			(id, asset, kind, full_close, amount, tx_hash, status, reason, submitted_at, settled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		in.ID, in.Asset, in.Kind.String(), boolToInt(in.Full),
		bigText(in.Amount), txHash, in.Status.String(), in.Reason,
		in.SubmittedAt.UnixNano(), settledAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save intent: %w", err)
	}
	return nil
}

// RecentIntents returns up to limit intents, newest first.
func (s *Storage) RecentIntents(limit int) ([]models.Intent, error) {
	rows, err := s.db.Query(`
		SELECT id, asset, kind, full_close, amount, tx_hash, status, reason, submitted_at, settled_at
		FROM intents ORDER BY submitted_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query intents: %w", err)
	}
	defer rows.Close()

	intents := []models.Intent{}
	for rows.Next() {
		var (
			in              models.Intent
			kind, status    string
			fullClose       int
			amount, txHash  sql.NullString
			reason          sql.NullString
			submittedAtNano int64
			settledAtNano   sql.NullInt64
		)
		if err := rows.Scan(&in.ID, &in.Asset, &kind, &fullClose, &amount, &txHash,
			&status, &reason, &submittedAtNano, &settledAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		if in.Kind, err = models.ParseActionKind(kind); err != nil {
			return nil, fmt.Errorf("failed to parse intent kind: %w", err)
		}
		in.Full = fullClose != 0
		if amount.Valid && amount.String != "" {
			in.Amount = textBig(amount.String)
		}
		if txHash.Valid && txHash.String != "" {
			in.TxHash = common.HexToHash(txHash.String)
		}
		in.Status = parseIntentStatus(status)
		in.Reason = reason.String
		in.SubmittedAt = time.Unix(0, submittedAtNano)
		if settledAtNano.Valid {
			in.SettledAt = time.Unix(0, settledAtNano.Int64)
		}
		intents = append(intents, in)
	}
	return intents, rows.Err()
}

func parseIntentStatus(s string) models.IntentStatus {
	switch s {
	case "pending":
		return models.IntentPending
	case "awaiting":
		return models.IntentAwaiting
	case "confirmed":
		return models.IntentConfirmed
	case "failed":
		return models.IntentFailed
	default:
		return models.IntentAbandoned
	}
}

// bigText renders a nullable big integer as decimal text. Integers are kept
// as TEXT because uint256 values overflow SQLite's 64-bit INTEGER.
func bigText(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func textBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

func textDecimal(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
