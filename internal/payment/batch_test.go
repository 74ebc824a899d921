package payment

import (
	"context"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/money"
	"github.com/planpay/planledger/internal/plan"
)

type fixture struct {
	repo    *invoice.MemoryRepository
	batcher *Batcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	directory := plan.NewMemoryDirectory()
	directory.PutProvider(plan.Provider{
		ID:            "prov-1",
		Name:          "CareCo",
		BSB:           "062-000",
		AccountNumber: "12345678",
		AccountName:   "CareCo Pty Ltd",
	})
	directory.PutProvider(plan.Provider{
		ID:            "prov-2",
		Name:          "SupportWorks",
		BSB:           "013-006",
		AccountNumber: "98765432",
		AccountName:   "SupportWorks Pty Ltd",
	})

	repo := invoice.NewMemoryRepository()
	batcher, err := NewBatcher(repo, directory, Options{
		Remitter: Remitter{
			BankAbbreviation: "CBA",
			UserName:         "PLANPAY",
			UserID:           "301500",
			BSB:              "062-999",
			AccountNumber:    "11223344",
			Description:      "PROVIDERS",
		},
		Now: func() time.Time { return time.Date(2024, 10, 15, 8, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return &fixture{repo: repo, batcher: batcher}
}

func (f *fixture) approvedInvoice(t *testing.T, id string, providerID string, cents int64) {
	t.Helper()
	require.NoError(t, f.repo.Put(invoice.Invoice{
		ID:         id,
		PlanID:     "plan-1",
		ProviderID: providerID,
		Status:     invoice.StatusApproved,
		Lines: []invoice.Line{
			{ItemCode: "01_011_0107_1_1", Quantity: 1, CategoryID: "cat-core", Total: money.FromCents(cents)},
		},
	}))
}

func trailerNet(t *testing.T, file string) int64 {
	t.Helper()
	lines := strings.Split(strings.TrimRight(file, "\n"), "\n")
	trailer := lines[len(lines)-1]
	require.Equal(t, byte('7'), trailer[0])
	net, err := strconv.ParseInt(trailer[20:30], 10, 64)
	require.NoError(t, err)
	return net
}

func TestGenerateBankFileTotals(t *testing.T) {
	f := newFixture(t)
	f.approvedInvoice(t, "inv-1", "prov-1", 5000)
	f.approvedInvoice(t, "inv-2", "prov-2", 7500)

	batch := f.batcher.Create()
	batch, err := f.batcher.Generate(context.Background(), batch.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusGenerated, batch.Status)
	assert.Len(t, batch.InvoiceIDs, 2)
	assert.Equal(t, int64(12500), trailerNet(t, batch.BankFile))

	var detailSum int64
	for _, line := range strings.Split(strings.TrimRight(batch.BankFile, "\n"), "\n") {
		if line[0] != '1' {
			continue
		}
		amount, err := strconv.ParseInt(line[20:30], 10, 64)
		require.NoError(t, err)
		detailSum += amount
	}
	assert.Equal(t, int64(12500), detailSum)
}

func TestBankFileRecordWidths(t *testing.T) {
	f := newFixture(t)
	f.approvedInvoice(t, "inv-1", "prov-1", 5000)

	batch := f.batcher.Create()
	batch, err := f.batcher.Generate(context.Background(), batch.ID)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(batch.BankFile, "\n"), "\n")
	require.Len(t, lines, 3)
	for i, line := range lines {
		assert.Len(t, line, 120, "record %d", i)
	}
	assert.Equal(t, byte('0'), lines[0][0])
	assert.Equal(t, byte('1'), lines[1][0])
	assert.Equal(t, byte('7'), lines[2][0])

	// Descriptor carries sequence, bank, remitter name, processing date.
	assert.Equal(t, "01", lines[0][18:20])
	assert.Equal(t, "CBA", lines[0][20:23])
	assert.Contains(t, lines[0], "151024")

	// Detail carries destination BSB and zero-filled cents.
	assert.Equal(t, "062-000", lines[1][1:8])
	assert.Equal(t, "0000005000", lines[1][20:30])

	// Trailer record count covers details only.
	assert.Equal(t, "000001", lines[2][74:80])
}

func TestGenerateEmptyBatch(t *testing.T) {
	f := newFixture(t)
	batch := f.batcher.Create()
	_, err := f.batcher.Generate(context.Background(), batch.ID)
	require.ErrorIs(t, err, ErrEmptyBatch)

	got, err := f.batcher.Get(batch.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, got.Status)
}

func TestGenerateExcludesBatchedInvoices(t *testing.T) {
	f := newFixture(t)
	f.approvedInvoice(t, "inv-1", "prov-1", 5000)

	first := f.batcher.Create()
	_, err := f.batcher.Generate(context.Background(), first.ID)
	require.NoError(t, err)

	second := f.batcher.Create()
	_, err = f.batcher.Generate(context.Background(), second.ID)
	require.ErrorIs(t, err, ErrEmptyBatch)

	// New approvals land in the next batch.
	f.approvedInvoice(t, "inv-2", "prov-1", 2000)
	third := f.batcher.Create()
	batch, err := f.batcher.Generate(context.Background(), third.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-2"}, batch.InvoiceIDs)
}

func TestMonotonicTransitions(t *testing.T) {
	f := newFixture(t)
	f.approvedInvoice(t, "inv-1", "prov-1", 5000)

	batch := f.batcher.Create()

	// Cannot skip Generated.
	_, err := f.batcher.Send(batch.ID)
	require.ErrorIs(t, err, ErrInvalidBatchTransition)

	_, err = f.batcher.Generate(context.Background(), batch.ID)
	require.NoError(t, err)

	_, err = f.batcher.Confirm(batch.ID)
	require.ErrorIs(t, err, ErrInvalidBatchTransition)

	_, err = f.batcher.Send(batch.ID)
	require.NoError(t, err)
	_, err = f.batcher.Confirm(batch.ID)
	require.NoError(t, err)

	// No regression from Confirmed.
	_, err = f.batcher.Send(batch.ID)
	require.ErrorIs(t, err, ErrInvalidBatchTransition)
	_, err = f.batcher.Void(batch.ID)
	require.ErrorIs(t, err, ErrInvalidBatchTransition)
}

func TestVoidFreesInvoices(t *testing.T) {
	f := newFixture(t)
	f.approvedInvoice(t, "inv-1", "prov-1", 5000)

	batch := f.batcher.Create()
	_, err := f.batcher.Generate(context.Background(), batch.ID)
	require.NoError(t, err)

	_, err = f.batcher.Void(batch.ID)
	require.NoError(t, err)

	inv, err := f.repo.Get("inv-1")
	require.NoError(t, err)
	assert.Empty(t, inv.BatchID)

	next := f.batcher.Create()
	regenerated, err := f.batcher.Generate(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"inv-1"}, regenerated.InvoiceIDs)
}

func TestProviderGrouping(t *testing.T) {
	f := newFixture(t)
	f.approvedInvoice(t, "inv-1", "prov-1", 5000)
	f.approvedInvoice(t, "inv-2", "prov-1", 2500)
	f.approvedInvoice(t, "inv-3", "prov-2", 1000)

	batch := f.batcher.Create()
	batch, err := f.batcher.Generate(context.Background(), batch.ID)
	require.NoError(t, err)

	assert.Equal(t, int64(7500), batch.Totals["prov-1"].Cents())
	assert.Equal(t, int64(1000), batch.Totals["prov-2"].Cents())

	lines := strings.Split(strings.TrimRight(batch.BankFile, "\n"), "\n")
	// Descriptor + one detail per provider + trailer.
	require.Len(t, lines, 4)
	assert.Equal(t, int64(8500), trailerNet(t, batch.BankFile))
}
