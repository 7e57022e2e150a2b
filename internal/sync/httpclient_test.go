package sync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientSendsDeviceKeyHeader(t *testing.T) {
	var gotKey, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get(DeviceKeyHeader)
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	if err := c.Heartbeat(context.Background(), "VAL-1", "bus-secret"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if gotKey != "bus-secret" {
		t.Fatalf("device key header = %q", gotKey)
	}
	if gotPath != "/api/validators/VAL-1/heartbeat" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestHTTPClientStatusMapping(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()
	c := NewHTTPClient(srv.URL, time.Second)

	status = http.StatusUnauthorized
	if err := c.Heartbeat(context.Background(), "VAL-1", "bad"); !errors.Is(err, ErrDeviceUnauthorized) {
		t.Fatalf("401: got %v", err)
	}
	status = http.StatusNotFound
	if err := c.Heartbeat(context.Background(), "ghost", "k"); !errors.Is(err, ErrValidatorUnknown) {
		t.Fatalf("404: got %v", err)
	}
	status = http.StatusInternalServerError
	if err := c.Heartbeat(context.Background(), "VAL-1", "k"); !errors.Is(err, ErrTransport) {
		t.Fatalf("500: got %v", err)
	}
}

func TestHTTPClientFetchConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"validator": map[string]any{
				"route":    "North Loop",
				"fareId":   "standard",
				"isActive": true,
			},
			"fare":                map[string]any{"id": "standard", "amount": 2_000},
			"antiPassbackSeconds": 15,
		})
	}))
	defer srv.Close()

	cfg, err := NewHTTPClient(srv.URL, time.Second).FetchConfig(context.Background(), "VAL-1", "k")
	if err != nil {
		t.Fatalf("fetch config: %v", err)
	}
	if cfg.RouteName != "North Loop" || !cfg.IsActive {
		t.Fatalf("validator fields: %+v", cfg)
	}
	if cfg.Fare.FareID != "standard" || cfg.Fare.Amount != 2_000 || cfg.Fare.AntiPassback != 15*time.Second {
		t.Fatalf("fare fields: %+v", cfg.Fare)
	}
}

func TestHTTPClientUploadBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ValidatorID string     `json:"validatorId"`
			Items       []BulkItem `json:"items"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		ids := make([]string, 0, len(req.Items))
		for _, it := range req.Items {
			ids = append(ids, it.ID)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ok": true, "accepted": len(ids), "acceptedIds": ids,
		})
	}))
	defer srv.Close()

	res, err := NewHTTPClient(srv.URL, time.Second).UploadBatch(context.Background(), "VAL-1", "k", []BulkItem{
		{ID: "tx-1", Amount: 2_000}, {ID: "tx-2", Amount: 2_000},
	})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.Accepted != 2 || len(res.AcceptedIDs) != 2 || res.AcceptedIDs[0] != "tx-1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}
