package storage

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/boro-labs/borod/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(100, ":memory:")
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testMarketRead(readAt time.Time) *models.MarketState {
	return &models.MarketState{
		ID:                common.HexToHash("0x01"),
		TotalSupplyAssets: big.NewInt(5_000_000_000),
		TotalSupplyShares: big.NewInt(5_000_000_000_000),
		TotalBorrowAssets: big.NewInt(1_000_000),
		TotalBorrowShares: big.NewInt(2_000_000),
		MaxLTV:            decimal.RequireFromString("0.86"),
		Oracle:            common.HexToAddress("0xaa"),
		IRM:               common.HexToAddress("0xbb"),
		ReadAt:            readAt,
	}
}

func TestStorage_SaveLoadMarketRead(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	m := testMarketRead(now)

	if err := s.SaveMarketRead("cbBTC", m); err != nil {
		t.Fatalf("SaveMarketRead: %v", err)
	}
	got, err := s.LoadMarketRead("cbBTC")
	if err != nil {
		t.Fatalf("LoadMarketRead: %v", err)
	}
	if got == nil {
		t.Fatal("expected a market read")
	}
	if got.ID != m.ID {
		t.Errorf("ID: got %s, want %s", got.ID.Hex(), m.ID.Hex())
	}
	if got.TotalBorrowShares.Cmp(m.TotalBorrowShares) != 0 {
		t.Errorf("total borrow shares: got %s, want %s", got.TotalBorrowShares, m.TotalBorrowShares)
	}
	if !got.MaxLTV.Equal(m.MaxLTV) {
		t.Errorf("max LTV: got %s, want %s", got.MaxLTV, m.MaxLTV)
	}
}

func TestStorage_LoadMarketRead_Missing(t *testing.T) {
	s := newTestStorage(t)
	got, err := s.LoadMarketRead("WETH")
	if err != nil {
		t.Fatalf("LoadMarketRead: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing read, got %+v", got)
	}
}

func TestStorage_SaveMarketRead_Upserts(t *testing.T) {
	s := newTestStorage(t)
	m := testMarketRead(time.Now())
	if err := s.SaveMarketRead("cbBTC", m); err != nil {
		t.Fatalf("SaveMarketRead: %v", err)
	}

	m.TotalBorrowAssets = big.NewInt(9_999_999)
	if err := s.SaveMarketRead("cbBTC", m); err != nil {
		t.Fatalf("SaveMarketRead (second): %v", err)
	}

	got, _ := s.LoadMarketRead("cbBTC")
	if got.TotalBorrowAssets.Cmp(m.TotalBorrowAssets) != 0 {
		t.Errorf("upsert did not replace: got %s", got.TotalBorrowAssets)
	}
}

func TestStorage_SaveLoadPositionRead(t *testing.T) {
	s := newTestStorage(t)
	// Values past 2^63 round-trip as text.
	shares, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	p := &models.PositionState{
		MarketID:     common.HexToHash("0x01"),
		Account:      common.HexToAddress("0xcc"),
		SupplyShares: big.NewInt(0),
		BorrowShares: shares,
		Collateral:   big.NewInt(100_000_000),
		ReadAt:       time.Now(),
	}

	if err := s.SavePositionRead("cbBTC", p); err != nil {
		t.Fatalf("SavePositionRead: %v", err)
	}
	got, err := s.LoadPositionRead("cbBTC")
	if err != nil {
		t.Fatalf("LoadPositionRead: %v", err)
	}
	if got == nil {
		t.Fatal("expected a position read")
	}
	if got.BorrowShares.Cmp(shares) != 0 {
		t.Errorf("borrow shares: got %s, want %s", got.BorrowShares, shares)
	}
	if got.Account != p.Account {
		t.Errorf("account: got %s, want %s", got.Account.Hex(), p.Account.Hex())
	}
}

func TestStorage_RiskHistoryCap(t *testing.T) {
	s, err := New(5, ":memory:")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	now := time.Now()
	for i := 0; i < 10; i++ {
		snap := &models.RiskSnapshot{
			CollateralAmount: decimal.NewFromInt(1),
			CollateralValue:  decimal.NewFromInt(64000),
			DebtValue:        decimal.NewFromInt(int64(i * 1000)),
			LTVPercent:       decimal.NewFromInt(int64(i)),
			HealthRatio:      decimal.NewFromFloat(0.1),
			Health:           models.HealthSafe,
			SpotPrice:        decimal.NewFromInt(64000),
			ComputedAt:       now.Add(time.Duration(i) * time.Second),
		}
		if err := s.AddRiskSnapshot("cbBTC", snap); err != nil {
			t.Fatalf("AddRiskSnapshot %d: %v", i, err)
		}
	}

	history, err := s.RiskHistory("cbBTC", 100)
	if err != nil {
		t.Fatalf("RiskHistory: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("got %d snapshots after cap enforcement, want 5", len(history))
	}
	// Newest first, oldest five trimmed.
	if !history[0].DebtValue.Equal(decimal.NewFromInt(9000)) {
		t.Errorf("newest snapshot debt: got %s, want 9000", history[0].DebtValue)
	}
	if !history[4].DebtValue.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("oldest kept snapshot debt: got %s, want 5000", history[4].DebtValue)
	}
}

func TestStorage_RiskHistoryPerAsset(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	for _, asset := range []string{"cbBTC", "WETH"} {
		snap := &models.RiskSnapshot{
			CollateralAmount: decimal.NewFromInt(1),
			Health:           models.HealthWarning,
			ComputedAt:       now,
		}
		if err := s.AddRiskSnapshot(asset, snap); err != nil {
			t.Fatalf("AddRiskSnapshot: %v", err)
		}
	}

	history, err := s.RiskHistory("cbBTC", 10)
	if err != nil {
		t.Fatalf("RiskHistory: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("got %d snapshots for cbBTC, want 1", len(history))
	}
	if history[0].Health != models.HealthWarning {
		t.Errorf("health: got %v, want Warning", history[0].Health)
	}
	if history[0].HealthName != "Warning" {
		t.Errorf("health name: got %q, want Warning", history[0].HealthName)
	}
}

func TestStorage_SaveIntentLifecycle(t *testing.T) {
	s := newTestStorage(t)

	in := &models.Intent{
		ID:          "intent-1",
		Asset:       "cbBTC",
		Kind:        models.ActionRepay,
		Full:        true,
		Amount:      big.NewInt(27_520_000_000),
		Status:      models.IntentPending,
		SubmittedAt: time.Now(),
	}
	if err := s.SaveIntent(in); err != nil {
		t.Fatalf("SaveIntent: %v", err)
	}

	// Settle and upsert the same record.
	in.TxHash = common.HexToHash("0xdead")
	in.Status = models.IntentConfirmed
	in.SettledAt = time.Now()
	if err := s.SaveIntent(in); err != nil {
		t.Fatalf("SaveIntent (settle): %v", err)
	}

	intents, err := s.RecentIntents(10)
	if err != nil {
		t.Fatalf("RecentIntents: %v", err)
	}
	if len(intents) != 1 {
		t.Fatalf("got %d intents, want 1", len(intents))
	}
	got := intents[0]
	if got.Kind != models.ActionRepay || !got.Full {
		t.Errorf("kind/full: got %v/%v, want repay/true", got.Kind, got.Full)
	}
	if got.Status != models.IntentConfirmed {
		t.Errorf("status: got %v, want confirmed", got.Status)
	}
	if got.TxHash != in.TxHash {
		t.Errorf("tx hash: got %s, want %s", got.TxHash.Hex(), in.TxHash.Hex())
	}
	if got.Amount.Cmp(in.Amount) != 0 {
		t.Errorf("amount: got %s, want %s", got.Amount, in.Amount)
	}
	if got.SettledAt.IsZero() {
		t.Error("settled time not persisted")
	}
}

func TestStorage_RecentIntentsOrder(t *testing.T) {
	s := newTestStorage(t)
	now := time.Now()
	names := []string{"intent-a", "intent-b", "intent-c"}
	for i, name := range names {
		in := &models.Intent{
			ID:          name,
			Asset:       "WETH",
			Kind:        models.ActionBorrow,
			Amount:      big.NewInt(int64(i)),
			Status:      models.IntentConfirmed,
			SubmittedAt: now.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveIntent(in); err != nil {
			t.Fatalf("SaveIntent: %v", err)
		}
	}

	intents, err := s.RecentIntents(2)
	if err != nil {
		t.Fatalf("RecentIntents: %v", err)
	}
	if len(intents) != 2 {
		t.Fatalf("got %d intents, want 2", len(intents))
	}
	if intents[0].ID != "intent-c" {
		t.Errorf("newest first: got %s, want intent-c", intents[0].ID)
	}
}

func TestStorage_DefaultPath(t *testing.T) {
	s, err := New(10, "")
	if err != nil {
		t.Fatalf("New with empty path: %v", err)
	}
	defer s.Close()
}

func TestStorage_NewUnusablePath(t *testing.T) {
	// A directory cannot be opened as a database file; the first pragma
	// fails and New must report it rather than hand back a half-open handle.
	if _, err := New(10, t.TempDir()); err == nil {
		t.Fatal("expected an error for a directory path")
	}
}
