package validatorapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/transit-pay/transit_pay/internal/ledger"
	"github.com/transit-pay/transit_pay/internal/logging"
	"github.com/transit-pay/transit_pay/internal/sync"
)

const testNowMs = int64(1_700_000_000_000) // 2023-11-14 UTC

func newTestApp(t *testing.T) (*fiber.App, ledger.Store) {
	t.Helper()
	store := ledger.NewMemory()
	h := NewHandler(store, logging.Discard()).WithClock(func() time.Time {
		return time.UnixMilli(testNowMs)
	})

	app := fiber.New()
	app.Post("/api/validators/:id/heartbeat", h.Heartbeat)
	app.Get("/api/validators/:id/config", h.Config)
	app.Post("/api/transactions/bulk", h.Bulk)
	app.Post("/api/events/app-open", h.AppOpen)
	return app, store
}

func seedValidator(t *testing.T, store ledger.Store) ledger.Validator {
	t.Helper()
	v := ledger.Validator{
		ID:        "VAL-1",
		Name:      "Bus 12",
		Route:     "Centre - Gare",
		DeviceKey: "bus-secret",
		IsActive:  true,
	}
	if err := store.PutValidator(context.Background(), v); err != nil {
		t.Fatalf("seed validator: %v", err)
	}
	return v
}

func doJSON(t *testing.T, app *fiber.App, method, path, deviceKey string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if deviceKey != "" {
		req.Header.Set(sync.DeviceKeyHeader, deviceKey)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHeartbeatUpdatesLastSeen(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)

	resp := doJSON(t, app, http.MethodPost, "/api/validators/VAL-1/heartbeat", "bus-secret", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	v, err := store.GetValidator(context.Background(), "VAL-1")
	if err != nil || v.LastSeen != testNowMs {
		t.Fatalf("lastSeen = %d err %v", v.LastSeen, err)
	}
}

func TestHeartbeatAuth(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)

	if resp := doJSON(t, app, http.MethodPost, "/api/validators/VAL-1/heartbeat", "wrong-key", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key: status = %d, want 401", resp.StatusCode)
	}
	if resp := doJSON(t, app, http.MethodPost, "/api/validators/VAL-1/heartbeat", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing key: status = %d, want 401", resp.StatusCode)
	}
	if resp := doJSON(t, app, http.MethodPost, "/api/validators/ghost/heartbeat", "bus-secret", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown id: status = %d, want 404", resp.StatusCode)
	}
	v, _ := store.GetValidator(context.Background(), "VAL-1")
	if v.LastSeen != 0 {
		t.Fatalf("rejected heartbeats must not touch lastSeen")
	}
}

func TestConfigRedactsDeviceKeyWithoutAuth(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)
	ctx := context.Background()
	store.PutFare(ctx, ledger.Fare{ID: "standard", Name: "Standard", Amount: 2_000})
	store.SetDefaultFareID(ctx, "standard")

	var body struct {
		Validator map[string]any `json:"validator"`
		Fare      *struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"fare"`
		AntiPassbackSeconds int `json:"antiPassbackSeconds"`
	}

	resp := doJSON(t, app, http.MethodGet, "/api/validators/VAL-1/config", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	decode(t, resp, &body)
	if _, ok := body.Validator["deviceKey"]; ok {
		t.Fatalf("device key leaked to unauthenticated caller")
	}
	if body.Fare == nil || body.Fare.Amount != 2_000 {
		t.Fatalf("default fare not resolved: %+v", body.Fare)
	}
	if body.AntiPassbackSeconds <= 0 {
		t.Fatalf("antiPassbackSeconds missing")
	}

	resp = doJSON(t, app, http.MethodGet, "/api/validators/VAL-1/config", "bus-secret", nil)
	decode(t, resp, &body)
	if body.Validator["deviceKey"] != "bus-secret" {
		t.Fatalf("authorized caller must receive the device key")
	}
}

func bulkBody(ids ...string) map[string]any {
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{
			"id":        id,
			"createdAt": testNowMs,
			"method":    "NFC",
			"amount":    2_000,
			"cardUid":   "CARD_7",
		})
	}
	return map[string]any{"validatorId": "VAL-1", "items": items}
}

func TestBulkIngestAndReplayDedupe(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)

	var body struct {
		OK          bool     `json:"ok"`
		Accepted    int      `json:"accepted"`
		AcceptedIDs []string `json:"acceptedIds"`
	}

	resp := doJSON(t, app, http.MethodPost, "/api/transactions/bulk", "bus-secret", bulkBody("tx-1", "tx-2"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	decode(t, resp, &body)
	if !body.OK || body.Accepted != 2 || len(body.AcceptedIDs) != 2 {
		t.Fatalf("first upload: %+v", body)
	}

	// Replay after an interrupted ack: nothing double-counts, but the ids
	// are still confirmed so the device can mark them synced.
	resp = doJSON(t, app, http.MethodPost, "/api/transactions/bulk", "bus-secret", bulkBody("tx-1", "tx-2", "tx-3"))
	decode(t, resp, &body)
	if body.Accepted != 1 || len(body.AcceptedIDs) != 3 {
		t.Fatalf("replay upload: %+v", body)
	}

	txs, err := store.ListTransactionsByDay(context.Background(), "2023-11-14")
	if err != nil || len(txs) != 3 {
		t.Fatalf("stored %d transactions err %v", len(txs), err)
	}
	for _, tx := range txs {
		if tx.Day != "2023-11-14" || tx.ValidatorID != "VAL-1" || tx.Status != ledger.TxStatusOK {
			t.Fatalf("bad stored transaction: %+v", tx)
		}
	}
}

func TestBulkEnrollsUnknownCards(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)

	doJSON(t, app, http.MethodPost, "/api/transactions/bulk", "bus-secret", bulkBody("tx-1"))

	card, err := store.GetCard(context.Background(), "CARD_7")
	if err != nil {
		t.Fatalf("card not enrolled: %v", err)
	}
	if card.Status != ledger.CardActive {
		t.Fatalf("enrolled card must be active: %+v", card)
	}
}

func TestBulkRejectsWrongKey(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)

	resp := doJSON(t, app, http.MethodPost, "/api/transactions/bulk", "wrong", bulkBody("tx-1"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	txs, _ := store.ListRecentTransactions(context.Background(), 10)
	if len(txs) != 0 {
		t.Fatalf("rejected upload must store nothing")
	}
}

func TestBulkSkipsInvalidItems(t *testing.T) {
	app, store := newTestApp(t)
	seedValidator(t, store)

	body := map[string]any{
		"validatorId": "VAL-1",
		"items": []map[string]any{
			{"id": "", "amount": 2_000},
			{"id": "tx-ok", "createdAt": testNowMs, "amount": 2_000},
			{"id": "tx-neg", "createdAt": testNowMs, "amount": -5},
		},
	}
	var out struct {
		Accepted    int      `json:"accepted"`
		AcceptedIDs []string `json:"acceptedIds"`
	}
	resp := doJSON(t, app, http.MethodPost, "/api/transactions/bulk", "bus-secret", body)
	decode(t, resp, &out)
	if out.Accepted != 1 || len(out.AcceptedIDs) != 1 || out.AcceptedIDs[0] != "tx-ok" {
		t.Fatalf("invalid items must be skipped: %+v", out)
	}
}

func TestAppOpenCountsDistinctActors(t *testing.T) {
	app, store := newTestApp(t)

	for _, actor := range []string{"user-1", "user-2", "user-1"} {
		resp := doJSON(t, app, http.MethodPost, "/api/events/app-open", "", map[string]any{"actor": actor})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	}
	if resp := doJSON(t, app, http.MethodPost, "/api/events/app-open", "", map[string]any{}); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing actor: status = %d, want 400", resp.StatusCode)
	}

	n, err := store.CountDistinctEventActors(context.Background(), ledger.EventAppOpen, "2023-11-14")
	if err != nil || n != 2 {
		t.Fatalf("distinct actors = %d err %v", n, err)
	}
}
