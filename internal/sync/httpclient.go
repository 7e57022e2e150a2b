package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transit-pay/transit_pay/internal/wallet"
)

// DeviceKeyHeader carries the device secret on validator-to-ledger calls.
// Keys travel in a header, never in the URL.
const DeviceKeyHeader = "X-Device-Key"

// HTTPClient talks JSON to the central ledger API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
}

// NewHTTPClient builds a client for the given base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Heartbeat(ctx context.Context, validatorID, deviceKey string) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/validators/"+url.PathEscape(validatorID)+"/heartbeat", deviceKey, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return statusErr(resp.StatusCode)
}

func (c *HTTPClient) FetchConfig(ctx context.Context, validatorID, deviceKey string) (RemoteConfig, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/validators/"+url.PathEscape(validatorID)+"/config", deviceKey, nil)
	if err != nil {
		return RemoteConfig{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp.StatusCode); err != nil {
		return RemoteConfig{}, err
	}

	var body struct {
		Validator struct {
			Route    string `json:"route"`
			FareID   string `json:"fareId"`
			IsActive bool   `json:"isActive"`
		} `json:"validator"`
		Fare *struct {
			ID     string `json:"id"`
			Amount int64  `json:"amount"`
		} `json:"fare"`
		AntiPassbackSeconds int `json:"antiPassbackSeconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return RemoteConfig{}, fmt.Errorf("%w: decode config: %v", ErrTransport, err)
	}

	cfg := RemoteConfig{RouteName: body.Validator.Route, IsActive: body.Validator.IsActive}
	if body.Fare != nil {
		cfg.Fare = wallet.FareConfig{
			FareID:       body.Fare.ID,
			Amount:       body.Fare.Amount,
			AntiPassback: time.Duration(body.AntiPassbackSeconds) * time.Second,
		}
	}
	return cfg, nil
}

func (c *HTTPClient) UploadBatch(ctx context.Context, validatorID, deviceKey string, items []BulkItem) (BulkResult, error) {
	payload := struct {
		ValidatorID string     `json:"validatorId"`
		Items       []BulkItem `json:"items"`
	}{ValidatorID: validatorID, Items: items}

	resp, err := c.do(ctx, http.MethodPost, "/api/transactions/bulk", deviceKey, payload)
	if err != nil {
		return BulkResult{}, err
	}
	defer resp.Body.Close()
	if err := statusErr(resp.StatusCode); err != nil {
		return BulkResult{}, err
	}

	var body struct {
		OK          bool     `json:"ok"`
		Accepted    int      `json:"accepted"`
		AcceptedIDs []string `json:"acceptedIds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return BulkResult{}, fmt.Errorf("%w: decode bulk response: %v", ErrTransport, err)
	}
	if !body.OK {
		return BulkResult{}, fmt.Errorf("%w: ledger rejected batch", ErrTransport)
	}
	return BulkResult{Accepted: body.Accepted, AcceptedIDs: body.AcceptedIDs}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path, deviceKey string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeviceKeyHeader, deviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return resp, nil
}

func statusErr(code int) error {
	switch {
	case code == http.StatusUnauthorized:
		return ErrDeviceUnauthorized
	case code == http.StatusNotFound:
		return ErrValidatorUnknown
	case code >= 400:
		return fmt.Errorf("%w: status %d", ErrTransport, code)
	default:
		return nil
	}
}
