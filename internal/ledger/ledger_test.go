package ledger_test

import (
	"testing"

	"PerpFunding/internal/event"
	"PerpFunding/internal/ledger"
	fpmath "PerpFunding/internal/math"

	"github.com/google/uuid"
)

var testUser = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_UserPath(t *testing.T) {
	key := ledger.NewUserAccountKey(testUser, 3)

	path := key.AccountPath()
	expected := "user:550e8400-e29b-41d4-a716-446655440000:3:funding"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestAccountKey_MarketPath(t *testing.T) {
	pool := ledger.NewMarketAccountKey(7, ledger.SubTypeFundingPool)
	if pool.AccountPath() != "market:7:funding_pool" {
		t.Errorf("got %q, want %q", pool.AccountPath(), "market:7:funding_pool")
	}
	fee := ledger.NewMarketAccountKey(7, ledger.SubTypeFeePool)
	if fee.AccountPath() != "market:7:fee_pool" {
		t.Errorf("got %q, want %q", fee.AccountPath(), "market:7:fee_pool")
	}
}

func TestParseAccountPath_RoundTrip(t *testing.T) {
	keys := []ledger.AccountKey{
		ledger.NewUserAccountKey(testUser, 0),
		ledger.NewUserAccountKey(uuid.New(), 42),
		ledger.NewMarketAccountKey(1, ledger.SubTypeFundingPool),
		ledger.NewMarketAccountKey(1, ledger.SubTypeFeePool),
	}
	for _, want := range keys {
		got, err := ledger.ParseAccountPath(want.AccountPath())
		if err != nil {
			t.Fatalf("ParseAccountPath(%q): %v", want.AccountPath(), err)
		}
		if got != want {
			t.Errorf("ParseAccountPath(%q) = %+v, want %+v", want.AccountPath(), got, want)
		}
	}
}

func TestParseAccountPath_Malformed(t *testing.T) {
	for _, path := range []string{
		"",
		"market:1",
		"market:x:funding_pool",
		"market:1:collateral",
		"user:not-a-uuid:1:funding",
		"user:550e8400-e29b-41d4-a716-446655440000:1:fee_pool:extra",
		"external:deposits",
	} {
		if _, err := ledger.ParseAccountPath(path); err == nil {
			t.Errorf("ParseAccountPath(%q) should fail", path)
		}
	}
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	if got := bt.UserFunding(testUser, 0); got != 0 {
		t.Errorf("initial balance should be 0, got %d", got)
	}
}

func TestBalanceTracker_ApplyJournal(t *testing.T) {
	bt := ledger.NewBalanceTracker()

	j := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       uuid.New(),
		DebitAccount:  ledger.NewUserAccountKey(testUser, 0),
		CreditAccount: ledger.NewMarketAccountKey(0, ledger.SubTypeFundingPool),
		Amount:        1_000_000,
	}
	if err := bt.ApplyJournal(j); err != nil {
		t.Fatalf("ApplyJournal: %v", err)
	}

	if got := bt.UserFunding(testUser, 0); got != 1_000_000 {
		t.Errorf("user funding: got %d, want 1_000_000", got)
	}
	if got := bt.GetBalance(ledger.NewMarketAccountKey(0, ledger.SubTypeFundingPool)); got != -1_000_000 {
		t.Errorf("funding pool: got %d, want -1_000_000", got)
	}
	if bt.ComputeGlobalBalance() != 0 {
		t.Error("global balance should be zero")
	}
}

func TestBalanceTracker_Snapshot(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	_ = bt.ApplyJournal(ledger.Journal{
		DebitAccount:  ledger.NewUserAccountKey(testUser, 0),
		CreditAccount: ledger.NewMarketAccountKey(0, ledger.SubTypeFundingPool),
		Amount:        999,
	})

	snap := bt.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot should have 2 accounts, got %d", len(snap))
	}
	for k := range snap {
		snap[k] = 0
	}
	if bt.UserFunding(testUser, 0) != 999 {
		t.Error("tracker balance should not be affected by snapshot mutation")
	}
}

func TestBalanceTracker_UserMarketsSorted(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	for _, m := range []uint64{5, 1, 3} {
		_ = bt.ApplyJournal(ledger.Journal{
			DebitAccount:  ledger.NewUserAccountKey(testUser, m),
			CreditAccount: ledger.NewMarketAccountKey(m, ledger.SubTypeFundingPool),
			Amount:        1,
		})
	}
	got := bt.UserMarkets(testUser)
	want := []uint64{1, 3, 5}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got %v, want %v", got, want)
		}
	}
}

// ============================================================================
// Test: Batch Validation
// ============================================================================

func TestBatch_Validate(t *testing.T) {
	batchID := uuid.New()
	good := ledger.Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		Sequence:      4,
		DebitAccount:  ledger.NewUserAccountKey(testUser, 0),
		CreditAccount: ledger.NewMarketAccountKey(0, ledger.SubTypeFundingPool),
		Amount:        10,
	}

	tests := []struct {
		name    string
		mutate  func(j *ledger.Journal)
		wantErr bool
	}{
		{"valid", func(j *ledger.Journal) {}, false},
		{"zero amount", func(j *ledger.Journal) { j.Amount = 0 }, true},
		{"negative amount", func(j *ledger.Journal) { j.Amount = -5 }, true},
		{"foreign batch", func(j *ledger.Journal) { j.BatchID = uuid.New() }, true},
		{"wrong sequence", func(j *ledger.Journal) { j.Sequence = 5 }, true},
		{"self transfer", func(j *ledger.Journal) { j.CreditAccount = j.DebitAccount }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := good
			tt.mutate(&j)
			b := &ledger.Batch{BatchID: batchID, Sequence: 4, Journals: []ledger.Journal{j}}
			err := b.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBatch_ValidateEmpty(t *testing.T) {
	b := &ledger.Batch{BatchID: uuid.New()}
	if err := b.Validate(); err == nil {
		t.Error("empty batch should fail validation")
	}
}

// ============================================================================
// Test: JournalGenerator
// ============================================================================

func rateRecord(market uint64) *event.FundingRateRecord {
	return &event.FundingRateRecord{Ts: 3600, RecordID: 0, MarketIndex: market}
}

func paymentRecord(market uint64, payment int64) *event.FundingPaymentRecord {
	return &event.FundingPaymentRecord{
		Ts:                        3700,
		User:                      testUser,
		MarketIndex:               market,
		FundingPayment:            fpmath.NewI128(payment),
		UserLastCumulativeFunding: fpmath.NewI128(416_666_666),
	}
}

func TestJournalGenerator_HousePnlAndSettlement(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	book := ledger.NewBook()

	// crank: the AMM is owed 416 by positions
	crank, err := jg.Generate(2, "0:crank:3600", 3600,
		[]event.Record{rateRecord(0)}, fpmath.NewI128(416))
	if err != nil {
		t.Fatalf("Generate crank: %v", err)
	}
	if crank == nil || len(crank.Journals) != 1 {
		t.Fatalf("crank batch: got %+v", crank)
	}
	if crank.Journals[0].JournalType != ledger.JournalTypeFundingHousePnl {
		t.Errorf("journal type: got %s", crank.Journals[0].JournalType)
	}
	if err := book.Apply(2, crank); err != nil {
		t.Fatalf("Apply crank: %v", err)
	}

	pool, fee := book.MarketBalances(0)
	if pool != -416 || fee != 416 {
		t.Errorf("after crank: pool=%d fee=%d, want -416/416", pool, fee)
	}

	// settle: the long pays 416
	settle, err := jg.Generate(3, "settle", 3700,
		[]event.Record{paymentRecord(0, -416)}, fpmath.I128{})
	if err != nil {
		t.Fatalf("Generate settle: %v", err)
	}
	if err := book.Apply(3, settle); err != nil {
		t.Fatalf("Apply settle: %v", err)
	}

	pool, fee = book.MarketBalances(0)
	if pool != 0 || fee != 416 {
		t.Errorf("after settle: pool=%d fee=%d, want 0/416", pool, fee)
	}
	if got := book.UserBalances(testUser)[0]; got != -416 {
		t.Errorf("user funding: got %d, want -416", got)
	}
	if !book.Balanced() {
		t.Error("book should be balanced")
	}
}

func TestJournalGenerator_NegativeHousePnl(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	batch, err := jg.Generate(1, "ref", 0, []event.Record{rateRecord(2)}, fpmath.NewI128(-25))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	j := batch.Journals[0]
	if j.DebitAccount != ledger.NewMarketAccountKey(2, ledger.SubTypeFundingPool) {
		t.Errorf("debit: got %s", j.DebitAccount)
	}
	if j.CreditAccount != ledger.NewMarketAccountKey(2, ledger.SubTypeFeePool) {
		t.Errorf("credit: got %s", j.CreditAccount)
	}
	if j.Amount != 25 {
		t.Errorf("amount: got %d, want 25", j.Amount)
	}
}

func TestJournalGenerator_NothingMoved(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	batch, err := jg.Generate(1, "ref", 0,
		[]event.Record{rateRecord(0), paymentRecord(0, 0)}, fpmath.I128{})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if batch != nil {
		t.Errorf("expected nil batch, got %+v", batch)
	}
}

func TestJournalGenerator_DeterministicIDs(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	recs := []event.Record{paymentRecord(0, 10), paymentRecord(1, -10)}

	a, err := jg.Generate(9, "ref", 0, recs, fpmath.I128{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := jg.Generate(9, "ref", 0, recs, fpmath.I128{})
	if err != nil {
		t.Fatal(err)
	}

	if a.BatchID != b.BatchID {
		t.Error("batch IDs should match across runs")
	}
	for i := range a.Journals {
		if a.Journals[i].JournalID != b.Journals[i].JournalID {
			t.Errorf("journal %d IDs differ", i)
		}
	}
	if a.Journals[0].JournalID == a.Journals[1].JournalID {
		t.Error("journals within a batch need distinct IDs")
	}
}

// ============================================================================
// Test: Book
// ============================================================================

func TestBook_IgnoresReplays(t *testing.T) {
	jg := ledger.NewJournalGenerator()
	book := ledger.NewBook()

	batch, _ := jg.Generate(0, "ref", 0, []event.Record{paymentRecord(0, 100)}, fpmath.I128{})
	if err := book.Apply(0, batch); err != nil {
		t.Fatal(err)
	}
	if err := book.Apply(0, batch); err != nil {
		t.Fatal(err)
	}
	if got := book.UserBalances(testUser)[0]; got != 100 {
		t.Errorf("replayed batch was applied twice: got %d", got)
	}
	if book.Watermark() != 0 {
		t.Errorf("watermark: got %d, want 0", book.Watermark())
	}
}

func TestBook_SeedThenApply(t *testing.T) {
	book := ledger.NewBook()
	book.Seed(map[ledger.AccountKey]int64{
		ledger.NewUserAccountKey(testUser, 0):                    -50,
		ledger.NewMarketAccountKey(0, ledger.SubTypeFundingPool): 50,
	}, 10)

	if err := book.Apply(10, nil); err != nil {
		t.Fatal(err)
	}
	if err := book.Apply(11, nil); err != nil {
		t.Fatal(err)
	}
	if book.Watermark() != 11 {
		t.Errorf("watermark: got %d, want 11", book.Watermark())
	}
	pool, _ := book.MarketBalances(0)
	if pool != 50 {
		t.Errorf("seeded pool: got %d, want 50", pool)
	}
}

func TestBook_PoolKeepsTruncationResidue(t *testing.T) {
	// two half-size longs each truncate their share of the 416 the
	// net position was charged
	a, b := uuid.New(), uuid.New()
	jg := ledger.NewJournalGenerator()
	book := ledger.NewBook()

	crank, err := jg.Generate(0, "crank", 3600,
		[]event.Record{&event.FundingRateRecord{MarketIndex: 0, RecordID: 0}}, fpmath.NewI128(416))
	if err != nil {
		t.Fatalf("Generate crank: %v", err)
	}
	settle, err := jg.Generate(1, "settle", 3700, []event.Record{
		&event.FundingPaymentRecord{User: a, MarketIndex: 0, FundingPayment: fpmath.NewI128(-208)},
		&event.FundingPaymentRecord{User: b, MarketIndex: 0, FundingPayment: fpmath.NewI128(-207)},
	}, fpmath.I128{})
	if err != nil {
		t.Fatalf("Generate settle: %v", err)
	}
	if err := book.Apply(0, crank); err != nil {
		t.Fatalf("Apply crank: %v", err)
	}
	if err := book.Apply(1, settle); err != nil {
		t.Fatalf("Apply settle: %v", err)
	}

	pool, fee := book.MarketBalances(0)
	if pool != -1 || fee != 416 {
		t.Errorf("pool=%d fee=%d, want -1/416", pool, fee)
	}
	if !book.Balanced() {
		t.Error("ledger should stay zero-sum with a pool residue")
	}
}
