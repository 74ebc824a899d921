package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planpay/planledger/internal/alert"
	"github.com/planpay/planledger/internal/claim"
	"github.com/planpay/planledger/internal/invoice"
	"github.com/planpay/planledger/internal/ledger"
	"github.com/planpay/planledger/internal/money"
	"github.com/planpay/planledger/internal/payment"
	"github.com/planpay/planledger/internal/plan"
	"github.com/planpay/planledger/internal/priceguide"
)

var (
	testPlanStart = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	testPlanEnd   = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	testNow       = time.Date(2024, 10, 15, 9, 0, 0, 0, time.UTC)
)

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()

	guide := priceguide.NewGuide()
	require.NoError(t, guide.Publish(
		priceguide.Version{
			ID:            "pg-2024",
			Label:         "2024-25",
			EffectiveFrom: testPlanStart,
			EffectiveTo:   testPlanEnd,
			Current:       true,
		},
		[]priceguide.Item{{
			Code:          "01_011_0107_1_1",
			Name:          "Assistance With Self-Care Activities",
			Category:      priceguide.CategoryCore,
			Purpose:       "daily_activities",
			Unit:          priceguide.UnitHour,
			PriceNational: money.FromCents(6547),
			ClaimType:     priceguide.ClaimTime,
		}},
	))

	directory := plan.NewMemoryDirectory()
	directory.PutParticipant(plan.Participant{ID: "part-1", NdisNumber: "430000001", Name: "Alex Doe"})
	directory.PutProvider(plan.Provider{
		ID:            "prov-1",
		Name:          "Care Services Pty Ltd",
		BSB:           "062-000",
		AccountNumber: "12345678",
		AccountName:   "Care Services Pty Ltd",
	})
	directory.PutPlan(plan.Plan{
		ID:             "plan-1",
		ParticipantID:  "part-1",
		PlanNumber:     "PLN-0001",
		Start:          testPlanStart,
		End:            testPlanEnd,
		Status:         plan.StatusActive,
		RemotenessTier: priceguide.TierNational,
		Categories: []plan.BudgetCategory{
			{ID: "cat-core", PlanID: "plan-1", Category: priceguide.CategoryCore, Purpose: "daily_activities", Allocated: money.FromCents(1000000)},
		},
	})

	led := ledger.New(ledger.NewMemoryStore(), ledger.Options{})
	require.NoError(t, led.Register("cat-core", money.FromCents(1000000)))

	repo := invoice.NewMemoryRepository()
	validator := invoice.NewValidator(guide, directory, led, repo, invoice.ValidatorOptions{})
	settlement := claim.NewSettlement(repo, directory, claim.Options{Gateway: claim.NewMockGateway()})
	batcher, err := payment.NewBatcher(repo, directory, payment.Options{
		Remitter: payment.Remitter{
			BankAbbreviation: "CBA",
			UserName:         "PLANLEDGER",
			UserID:           "301500",
			BSB:              "062-000",
			AccountNumber:    "98765432",
			Description:      "NDIS PAYMENT",
		},
	})
	require.NoError(t, err)
	alerts := alert.NewEngine(directory, led, repo, alert.Options{})

	return NewHandler(Engine{
		Ledger:     led,
		Validator:  validator,
		Settlement: settlement,
		Batcher:    batcher,
		Alerts:     alerts,
		Now:        func() time.Time { return testNow },
	}, nil)
}

func doJSON(t *testing.T, h http.Handler, method string, path string, body string, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	h.ServeHTTP(resp, req)
	if out != nil && resp.Code < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createDraftInvoice(t *testing.T, h http.Handler) invoice.Invoice {
	t.Helper()
	body := fmt.Sprintf(`{
		"id": "",
		"plan_id": "plan-1",
		"provider_id": "prov-1",
		"invoice_number": "INV-100",
		"status": "",
		"lines": [{
			"item_code": "01_011_0107_1_1",
			"category": "core",
			"purpose": "daily_activities",
			"quantity": 4,
			"rate": 6000,
			"claim_at_ttp": false,
			"service_date": %q
		}]
	}`, testNow.Add(-7*24*time.Hour).Format(time.RFC3339))

	var inv invoice.Invoice
	resp := doJSON(t, h, http.MethodPost, "/invoices", body, &inv)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	require.NotEmpty(t, inv.ID)
	return inv
}

func TestHealthAndRoot(t *testing.T) {
	h := newTestHandler(t)

	resp := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.Code)

	var root map[string]string
	resp = doJSON(t, h, http.MethodGet, "/", "", &root)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "planledger", root["name"])
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	inv := createDraftInvoice(t, h)

	var submitted invoice.Invoice
	resp := doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/submit", `{"actor":"coordinator-1"}`, &submitted)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, invoice.StatusSubmitted, submitted.Status)
	assert.Equal(t, int64(24000), submitted.Lines[0].Total.Cents())

	var category categoryResponse
	resp = doJSON(t, h, http.MethodGet, "/categories/cat-core", "", &category)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(24000), category.Committed)

	var approved invoice.Invoice
	resp = doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/approve", `{"actor":"coordinator-1"}`, &approved)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, invoice.StatusApproved, approved.Status)

	resp = doJSON(t, h, http.MethodGet, "/categories/cat-core", "", &category)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(0), category.Committed)
	assert.Equal(t, int64(24000), category.Spent)
	assert.Equal(t, int64(976000), category.Available)
}

func TestInvoiceInvalidTransitionConflicts(t *testing.T) {
	h := newTestHandler(t)
	inv := createDraftInvoice(t, h)

	resp := doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/approve", `{"actor":"coordinator-1"}`, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)
}

func TestInvoiceRateAboveLimitRejected(t *testing.T) {
	h := newTestHandler(t)
	body := fmt.Sprintf(`{
		"plan_id": "plan-1",
		"provider_id": "prov-1",
		"invoice_number": "INV-101",
		"lines": [{
			"item_code": "01_011_0107_1_1",
			"category": "core",
			"purpose": "daily_activities",
			"quantity": 1,
			"rate": 7000,
			"service_date": %q
		}]
	}`, testNow.Format(time.RFC3339))

	var inv invoice.Invoice
	resp := doJSON(t, h, http.MethodPost, "/invoices", body, &inv)
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

	resp = doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/submit", `{"actor":"coordinator-1"}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestUnknownInvoiceIs404(t *testing.T) {
	h := newTestHandler(t)
	resp := doJSON(t, h, http.MethodGet, "/invoices/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestClaimFlowOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	inv := createDraftInvoice(t, h)
	doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/submit", `{"actor":"coordinator-1"}`, nil)
	doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/approve", `{"actor":"coordinator-1"}`, nil)

	var c claim.Claim
	resp := doJSON(t, h, http.MethodPost, "/claims", "", &c)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodPost, "/claims/"+c.ID+"/invoices", `{"invoice_id":"`+inv.ID+`"}`, &c)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, []string{inv.ID}, c.InvoiceIDs)

	req := httptest.NewRequest(http.MethodGet, "/claims/"+c.ID+"/export", nil)
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, recorder.Body.String(), "430000001,PLN-0001,01_011_0107_1_1,4,240.00")

	resp = doJSON(t, h, http.MethodPost, "/claims/"+c.ID+"/submit", "", &c)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, claim.StatusSubmitted, c.Status)

	resp = doJSON(t, h, http.MethodPost, "/claims/"+c.ID+"/outcome", `{"accepted":true,"reference":"NDIA-7"}`, &c)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, claim.StatusAccepted, c.Status)
	assert.Equal(t, "NDIA-7", c.ExternalRef)
}

func TestClaimOutcomeWithoutReferenceRejected(t *testing.T) {
	h := newTestHandler(t)
	inv := createDraftInvoice(t, h)
	doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/submit", `{"actor":"coordinator-1"}`, nil)
	doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/approve", `{"actor":"coordinator-1"}`, nil)

	var c claim.Claim
	doJSON(t, h, http.MethodPost, "/claims", "", &c)
	doJSON(t, h, http.MethodPost, "/claims/"+c.ID+"/invoices", `{"invoice_id":"`+inv.ID+`"}`, nil)
	doJSON(t, h, http.MethodPost, "/claims/"+c.ID+"/submit", "", nil)

	resp := doJSON(t, h, http.MethodPost, "/claims/"+c.ID+"/outcome", `{"accepted":true}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestBatchFlowOverHTTP(t *testing.T) {
	h := newTestHandler(t)
	inv := createDraftInvoice(t, h)
	doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/submit", `{"actor":"coordinator-1"}`, nil)
	doJSON(t, h, http.MethodPost, "/invoices/"+inv.ID+"/approve", `{"actor":"coordinator-1"}`, nil)

	var batch payment.Batch
	resp := doJSON(t, h, http.MethodPost, "/batches", "", &batch)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodPost, "/batches/"+batch.ID+"/generate", "", &batch)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, payment.StatusGenerated, batch.Status)
	assert.Equal(t, []string{inv.ID}, batch.InvoiceIDs)

	req := httptest.NewRequest(http.MethodGet, "/batches/"+batch.ID+"/file", nil)
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	require.Equal(t, http.StatusOK, recorder.Code)
	for _, line := range strings.Split(strings.TrimRight(recorder.Body.String(), "\n"), "\n") {
		assert.Len(t, line, 120)
	}

	resp = doJSON(t, h, http.MethodPost, "/batches/"+batch.ID+"/send", "", &batch)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, payment.StatusSent, batch.Status)

	resp = doJSON(t, h, http.MethodPost, "/batches/"+batch.ID+"/confirm", "", &batch)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, payment.StatusConfirmed, batch.Status)
}

func TestGenerateEmptyBatchRejected(t *testing.T) {
	h := newTestHandler(t)

	var batch payment.Batch
	doJSON(t, h, http.MethodPost, "/batches", "", &batch)
	resp := doJSON(t, h, http.MethodPost, "/batches/"+batch.ID+"/generate", "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

func TestAlertSweepOverHTTP(t *testing.T) {
	h := newTestHandler(t)

	var created []alert.Alert
	resp := doJSON(t, h, http.MethodPost, "/alerts/sweep", "", &created)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	// Fresh plan with no services: the service gap alert fires.
	types := make([]alert.Type, 0, len(created))
	for _, a := range created {
		types = append(types, a.Type)
	}
	assert.Contains(t, types, alert.TypeServiceGap)

	var all []alert.Alert
	resp = doJSON(t, h, http.MethodGet, "/alerts", "", &all)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, all, len(created))
}

func TestUnknownActionIs404(t *testing.T) {
	h := newTestHandler(t)
	resp := doJSON(t, h, http.MethodPost, "/invoices/some-id/frobnicate", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t)
	resp := doJSON(t, h, http.MethodDelete, "/invoices", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.Code)
}
