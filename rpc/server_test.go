package rpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"tokensale/core/events"
	"tokensale/core/state"
	"tokensale/crypto"
	"tokensale/native/bank"
	"tokensale/native/common"
	"tokensale/native/sale"
	"tokensale/rpc/middleware"
	"tokensale/storage"
	"tokensale/storage/receipts"
)

const testNow = int64(1_000)

type testEnv struct {
	server   *Server
	handler  http.Handler
	engine   *sale.Engine
	ledger   *bank.Ledger
	receipts *receipts.Store
	hub      *Hub
	pauses   *common.StaticPauses
	secret   string
	seller   string
	buyer    string
	treasury string
}

func identity(fill byte) ([20]byte, string) {
	var raw [20]byte
	for i := range raw {
		raw[i] = fill
	}
	return raw, crypto.FromRaw(raw).String()
}

func newTestEnv(t *testing.T, auth middleware.AuthConfig) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	ledger := bank.NewLedger(manager)
	store, err := receipts.Open(receipts.Config{Driver: receipts.DriverSQLite, DSN: receipts.MemoryDSN(uuid.NewString())}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	hub := NewHub(nil)
	pauses := common.NewStaticPauses()

	engine := sale.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetPauseView(pauses)
	engine.SetNowFunc(func() int64 { return testNow })
	engine.SetEmitter(events.NewFanout(store, hub))

	sellerRaw, seller := identity(0x01)
	buyerRaw, buyer := identity(0x02)
	_, treasury := identity(0x04)
	require.NoError(t, ledger.Mint("TKN", sellerRaw, 1_000))
	require.NoError(t, ledger.Mint("USDC", buyerRaw, 100_000))

	srv, err := New(Config{
		Engine:   engine,
		Balances: ledger,
		Receipts: store,
		Hub:      hub,
		Auth:     auth,
	})
	require.NoError(t, err)
	return &testEnv{
		server:   srv,
		handler:  srv.Handler(),
		engine:   engine,
		ledger:   ledger,
		receipts: store,
		hub:      hub,
		pauses:   pauses,
		secret:   auth.HMACSecret,
		seller:   seller,
		buyer:    buyer,
		treasury: treasury,
	}
}

func (env *testEnv) do(t *testing.T, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case caller == "":
	case env.secret != "":
		token, err := middleware.IssueToken([]byte(env.secret), middleware.TokenRequest{Subject: caller, TTL: time.Minute})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		req.Header.Set(middleware.IdentityHeader, caller)
	}
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (env *testEnv) createSale(t *testing.T) SaleResult {
	t.Helper()
	body := `{"asset":"TKN","paymentAsset":"USDC","pricePerUnit":"100","totalSupply":"1000",
		"windowStart":1000,"windowEnd":2000,"perBuyerCap":"0","platformFeeBps":250,"feeRecipient":"` + env.treasury + `"}`
	rec := env.do(t, http.MethodPost, "/v1/sales", env.seller, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[SaleResult](t, rec)
}

func TestCreatePurchaseAndAudit(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	created := env.createSale(t)
	require.Equal(t, "1000", created.SupplyRemaining)
	require.Equal(t, env.seller, created.Seller)
	require.True(t, created.Active)

	quote := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/quote", "", `{"amount":"100"}`)
	require.Equal(t, http.StatusOK, quote.Code)
	require.Equal(t, SettlementResult{Amount: "100", Gross: "10000", Fee: "250", SellerPayment: "9750"}, decode[SettlementResult](t, quote))

	rec := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/purchase", env.buyer, `{"amount":"100"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[PurchaseResult](t, rec)
	require.Equal(t, "900", result.Sale.SupplyRemaining)
	require.Equal(t, "100", result.Buyer.TokensPurchased)
	require.Equal(t, "250", result.Settlement.Fee)

	balance := env.do(t, http.MethodGet, "/v1/balances/"+env.treasury+"/usdc", "", "")
	require.Equal(t, http.StatusOK, balance.Code)
	require.Equal(t, "250", decode[BalanceResult](t, balance).Balance)

	buyerRec := env.do(t, http.MethodGet, "/v1/sales/"+created.ID+"/buyers/"+env.buyer, "", "")
	require.Equal(t, http.StatusOK, buyerRec.Code)
	require.Equal(t, "100", decode[BuyerResult](t, buyerRec).TokensPurchased)

	audit := env.do(t, http.MethodGet, "/v1/sales/"+created.ID+"/audit", "", "")
	require.Equal(t, http.StatusOK, audit.Code)
	report := decode[AuditResult](t, audit)
	require.True(t, report.CustodyOK)
	require.True(t, report.ConservationOK)
	require.Equal(t, "900", report.VaultBalance)

	journal := env.do(t, http.MethodGet, "/v1/sales/"+created.ID+"/receipts", "", "")
	require.Equal(t, http.StatusOK, journal.Code)
	entries := decode[[]ReceiptResult](t, journal)
	require.Len(t, entries, 2)
	require.Equal(t, sale.EventTypeSaleCreated, entries[0].Type)
	require.Equal(t, sale.EventTypeSalePurchased, entries[1].Type)
	require.Equal(t, entries[0].Digest, entries[1].PrevDigest)
	require.Equal(t, env.buyer, entries[1].Actor)
}

func TestErrorStatusMapping(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	created := env.createSale(t)
	_, stranger := identity(0x09)
	missing := "0x" + strings.Repeat("ab", 32)

	cases := []struct {
		name   string
		method string
		path   string
		caller string
		body   string
		status int
	}{
		{"no identity", http.MethodPost, "/v1/sales/" + created.ID + "/purchase", "", `{"amount":"1"}`, http.StatusUnauthorized},
		{"zero amount", http.MethodPost, "/v1/sales/" + created.ID + "/purchase", env.buyer, `{"amount":"0"}`, http.StatusBadRequest},
		{"bad amount", http.MethodPost, "/v1/sales/" + created.ID + "/purchase", env.buyer, `{"amount":"-5"}`, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/v1/sales/" + created.ID + "/purchase", env.buyer, `{"amount":"1","extra":1}`, http.StatusBadRequest},
		{"bad sale id", http.MethodGet, "/v1/sales/0x1234", "", "", http.StatusBadRequest},
		{"missing sale", http.MethodGet, "/v1/sales/" + missing, "", "", http.StatusNotFound},
		{"oversupply", http.MethodPost, "/v1/sales/" + created.ID + "/purchase", env.buyer, `{"amount":"1001"}`, http.StatusUnprocessableEntity},
		{"stranger cancels", http.MethodPost, "/v1/sales/" + created.ID + "/cancel", stranger, "", http.StatusForbidden},
		{"unfunded buyer", http.MethodPost, "/v1/sales/" + created.ID + "/purchase", stranger, `{"amount":"1"}`, http.StatusPaymentRequired},
		{"duplicate sale", http.MethodPost, "/v1/sales", env.seller, `{"asset":"TKN","paymentAsset":"USDC","pricePerUnit":"1","totalSupply":"1","windowStart":1000,"windowEnd":2000,"platformFeeBps":0,"feeRecipient":"` + env.treasury + `"}`, http.StatusConflict},
		{"update after start", http.MethodPatch, "/v1/sales/" + created.ID, env.seller, `{"pricePerUnit":"5"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.caller, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			require.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

func TestPauseCancelAndList(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	created := env.createSale(t)

	paused := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/pause", env.seller, "")
	require.Equal(t, http.StatusOK, paused.Code)
	require.True(t, decode[SaleResult](t, paused).Paused)

	blocked := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/purchase", env.buyer, `{"amount":"1"}`)
	require.Equal(t, http.StatusConflict, blocked.Code)

	cancelled := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/cancel", env.seller, "")
	require.Equal(t, http.StatusOK, cancelled.Code)
	require.False(t, decode[SaleResult](t, cancelled).Active)
	sellerRaw, _ := identity(0x01)
	bal, err := env.ledger.Balance("TKN", sellerRaw)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), bal)

	all := decode[[]SaleResult](t, env.do(t, http.MethodGet, "/v1/sales", "", ""))
	require.Len(t, all, 1)
	active := decode[[]SaleResult](t, env.do(t, http.MethodGet, "/v1/sales?active=true", "", ""))
	require.Empty(t, active)
}

func TestModulePauseBlocksCreation(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	env.pauses.Set(sale.ModuleName, true)
	body := `{"asset":"TKN","paymentAsset":"USDC","pricePerUnit":"1","totalSupply":"1","windowStart":1000,"windowEnd":2000,"platformFeeBps":0,"feeRecipient":"` + env.treasury + `"}`
	rec := env.do(t, http.MethodPost, "/v1/sales", env.seller, body)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "paused")
}

func TestUpdateBeforeWindowOpens(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	body := `{"asset":"TKN","paymentAsset":"USDC","pricePerUnit":"100","totalSupply":"500",
		"windowStart":1500,"windowEnd":2000,"platformFeeBps":0,"feeRecipient":"` + env.treasury + `"}`
	created := decode[SaleResult](t, env.do(t, http.MethodPost, "/v1/sales", env.seller, body))

	rec := env.do(t, http.MethodPatch, "/v1/sales/"+created.ID, env.seller, `{"pricePerUnit":"120","perBuyerCap":"50","windowEnd":3000}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[SaleResult](t, rec)
	require.Equal(t, "120", updated.PricePerUnit)
	require.Equal(t, "50", updated.PerBuyerCap)
	require.Equal(t, int64(3000), updated.WindowEnd)

	bad := env.do(t, http.MethodPatch, "/v1/sales/"+created.ID, env.seller, `{"windowEnd":1200}`)
	require.Equal(t, http.StatusBadRequest, bad.Code)
}

func TestRegisterBuyer(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	created := env.createSale(t)
	rec := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/buyers", env.buyer, "")
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "0", decode[BuyerResult](t, rec).TokensPurchased)

	again := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/buyers", env.buyer, "")
	require.Equal(t, http.StatusConflict, again.Code)

	_, unknown := identity(0x0A)
	missing := env.do(t, http.MethodGet, "/v1/sales/"+created.ID+"/buyers/"+unknown, "", "")
	require.Equal(t, http.StatusNotFound, missing.Code)
}

func TestBearerAuthentication(t *testing.T) {
	secret := "0123456789abcdef0123456789abcdef"
	env := newTestEnv(t, middleware.AuthConfig{Enabled: true, HMACSecret: secret})
	created := env.createSale(t)

	spoofed := httptest.NewRequest(http.MethodPost, "/v1/sales/"+created.ID+"/purchase", strings.NewReader(`{"amount":"1"}`))
	spoofed.Header.Set(middleware.IdentityHeader, env.buyer)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, spoofed)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	bought := env.do(t, http.MethodPost, "/v1/sales/"+created.ID+"/purchase", env.buyer, `{"amount":"1"}`)
	require.Equal(t, http.StatusOK, bought.Code, bought.Body.String())
	require.Equal(t, env.buyer, decode[PurchaseResult](t, bought).Buyer.Buyer)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, middleware.AuthConfig{})
	env.createSale(t)

	health := env.do(t, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, health.Code)
	body := decode[map[string]any](t, health)
	require.Equal(t, "ok", body["status"])
	require.EqualValues(t, 1, body["receiptSequence"])

	metrics := env.do(t, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, metrics.Code)
	require.Contains(t, metrics.Body.String(), "tokensale_engine_operations_total")
	require.Contains(t, metrics.Body.String(), "tokensale_api_requests_total")
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	_, err = New(Config{Engine: sale.NewEngine(), Auth: middleware.AuthConfig{Enabled: true}})
	require.Error(t, err)
}

func TestReceiptsUnavailable(t *testing.T) {
	srv, err := New(Config{Engine: sale.NewEngine()})
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sales/0x"+strings.Repeat("00", 32)+"/receipts", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
