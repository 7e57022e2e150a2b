package validatorapi

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/transit-pay/transit_pay/internal/ledger"
	"github.com/transit-pay/transit_pay/internal/sync"
)

// DefaultAntiPassback is the server-advertised minimum gap between two taps
// of the same card.
const DefaultAntiPassback = 15 * time.Second

// Handler exposes the device-facing endpoints: heartbeat, config and bulk
// transaction ingest. Every endpoint except app-open requires the device key
// in the X-Device-Key header.
type Handler struct {
	store        ledger.Store
	logger       *slog.Logger
	antiPassback time.Duration
	now          func() time.Time
}

// NewHandler builds the device-facing handler.
func NewHandler(store ledger.Store, logger *slog.Logger) *Handler {
	return &Handler{
		store:        store,
		logger:       logger,
		antiPassback: DefaultAntiPassback,
		now:          time.Now,
	}
}

// WithAntiPassback overrides the advertised anti-passback window.
func (h *Handler) WithAntiPassback(d time.Duration) *Handler {
	if d > 0 {
		h.antiPassback = d
	}
	return h
}

// WithClock overrides the time source for tests.
func (h *Handler) WithClock(now func() time.Time) *Handler {
	h.now = now
	return h
}

// Heartbeat updates the validator's lastSeen timestamp.
func (h *Handler) Heartbeat(c *fiber.Ctx) error {
	v, err := h.authorize(c, c.Params("id"))
	if err != nil {
		return err
	}
	nowMs := h.now().UnixMilli()
	if err := h.store.TouchValidator(c.UserContext(), v.ID, nowMs); err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"ok": true, "serverTime": nowMs})
}

// Config returns route and fare for a validator. The full record, including
// the device key, is returned only to a caller presenting the matching key;
// everyone else gets the redacted public subset.
func (h *Handler) Config(c *fiber.Ctx) error {
	v, err := h.store.GetValidator(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(http.StatusNotFound, "unknown validator")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	authorized := keyMatches(c.Get(sync.DeviceKeyHeader), v.DeviceKey)

	validator := fiber.Map{
		"id":       v.ID,
		"name":     v.Name,
		"route":    v.Route,
		"fareId":   v.FareID,
		"isActive": v.IsActive,
	}
	if authorized {
		validator["deviceKey"] = v.DeviceKey
	}

	resp := fiber.Map{
		"validator":           validator,
		"fare":                nil,
		"antiPassbackSeconds": int(h.antiPassback.Seconds()),
	}
	if fare, err := h.resolveFare(c, v.FareID); err == nil {
		resp["fare"] = fiber.Map{"id": fare.ID, "name": fare.Name, "amount": fare.Amount}
	}
	return c.JSON(resp)
}

type bulkRequest struct {
	ValidatorID string          `json:"validatorId"`
	Items       []sync.BulkItem `json:"items"`
}

// Bulk ingests a transaction batch from a validator. Accepted is the count
// of first-time inserts; acceptedIds lists every item now durably stored,
// including ids replayed from an earlier interrupted upload, so the device
// can flip them to synced.
func (h *Handler) Bulk(c *fiber.Ctx) error {
	var req bulkRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	v, err := h.authorize(c, req.ValidatorID)
	if err != nil {
		return err
	}

	nowMs := h.now().UnixMilli()
	txs := make([]ledger.Transaction, 0, len(req.Items))
	acceptedIDs := make([]string, 0, len(req.Items))
	skipped := 0
	for _, item := range req.Items {
		if item.ID == "" || item.Amount < 0 {
			skipped++
			continue
		}
		createdAt := item.CreatedAt
		if createdAt <= 0 {
			createdAt = nowMs
		}
		status := item.Status
		if status == "" {
			status = ledger.TxStatusOK
		}
		txs = append(txs, ledger.Transaction{
			ID:          item.ID,
			CreatedAt:   createdAt,
			Day:         ledger.DayOf(createdAt),
			ValidatorID: v.ID,
			Method:      item.Method,
			FareID:      item.FareID,
			Amount:      item.Amount,
			CardUID:     item.CardUID,
			Status:      status,
			Reason:      item.Reason,
		})
		acceptedIDs = append(acceptedIDs, item.ID)
	}
	if skipped > 0 {
		h.logger.Warn("bulk upload contained invalid items",
			"validator", v.ID, "skipped", skipped)
	}

	h.enrollCards(c, txs)

	accepted, err := h.store.InsertTransactions(c.UserContext(), txs)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	// A successful upload proves liveness as well as any heartbeat.
	if err := h.store.TouchValidator(c.UserContext(), v.ID, nowMs); err != nil {
		h.logger.Warn("touch validator failed", "validator", v.ID, "error", err)
	}

	h.logger.Info("bulk ingest",
		"validator", v.ID, "items", len(req.Items), "accepted", accepted)
	return c.JSON(fiber.Map{"ok": true, "accepted": accepted, "acceptedIds": acceptedIDs})
}

type appOpenRequest struct {
	Actor     string `json:"actor"`
	SubjectID string `json:"subjectId"`
}

// AppOpen records a passenger app-open event, folded into the dashboard's
// unique-active-user count.
func (h *Handler) AppOpen(c *fiber.Ctx) error {
	var req appOpenRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.Actor == "" {
		return fiber.NewError(http.StatusBadRequest, "actor is required")
	}
	err := h.store.AppendEvent(c.UserContext(), ledger.Event{
		ID:        uuid.NewString(),
		Type:      ledger.EventAppOpen,
		CreatedAt: h.now().UnixMilli(),
		Actor:     req.Actor,
		SubjectID: req.SubjectID,
	})
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"ok": true})
}

// authorize loads the validator and checks the device key header.
func (h *Handler) authorize(c *fiber.Ctx, id string) (ledger.Validator, error) {
	if id == "" {
		return ledger.Validator{}, fiber.NewError(http.StatusBadRequest, "validator id is required")
	}
	v, err := h.store.GetValidator(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.Validator{}, fiber.NewError(http.StatusNotFound, "unknown validator")
		}
		return ledger.Validator{}, fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	if !keyMatches(c.Get(sync.DeviceKeyHeader), v.DeviceKey) {
		return ledger.Validator{}, fiber.NewError(http.StatusUnauthorized, "device key mismatch")
	}
	return v, nil
}

// enrollCards registers card uids never seen before as active central
// records. Best effort; enrollment failures never block the ingest.
func (h *Handler) enrollCards(c *fiber.Ctx, txs []ledger.Transaction) {
	seen := map[string]bool{}
	nowMs := h.now().UnixMilli()
	for _, tx := range txs {
		if tx.CardUID == "" || seen[tx.CardUID] {
			continue
		}
		seen[tx.CardUID] = true
		if _, err := h.store.GetCard(c.UserContext(), tx.CardUID); err == nil {
			continue
		} else if !errors.Is(err, ledger.ErrNotFound) {
			continue
		}
		card := ledger.Card{UID: tx.CardUID, Status: ledger.CardActive, UpdatedAt: nowMs}
		if err := h.store.PutCard(c.UserContext(), card); err != nil {
			h.logger.Warn("card enrollment failed", "card", tx.CardUID, "error", err)
		}
	}
}

func (h *Handler) resolveFare(c *fiber.Ctx, fareID string) (ledger.Fare, error) {
	if fareID == "" {
		id, err := h.store.DefaultFareID(c.UserContext())
		if err != nil || id == "" {
			return ledger.Fare{}, ledger.ErrUnknownFare
		}
		fareID = id
	}
	return h.store.GetFare(c.UserContext(), fareID)
}

func keyMatches(presented, expected string) bool {
	if presented == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
