package admin

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/transit-pay/transit_pay/internal/accounting"
	"github.com/transit-pay/transit_pay/internal/audit"
	"github.com/transit-pay/transit_pay/internal/ledger"
)

// ActorLocal is the fiber locals key carrying the authenticated admin
// username, set by the token guard middleware.
const ActorLocal = "admin_actor"

const defaultListLimit = 100

// Handler exposes the administrative HTTP endpoints.
type Handler struct {
	service    *Service
	accounting *accounting.Service
	store      ledger.Store
}

// NewHandler builds the admin HTTP handler.
func NewHandler(service *Service, acct *accounting.Service, store ledger.Store) *Handler {
	return &Handler{service: service, accounting: acct, store: store}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login exchanges credentials for a bearer token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	token, err := h.service.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return fiber.NewError(http.StatusUnauthorized, "invalid credentials")
	}
	return c.JSON(fiber.Map{"token": token})
}

// Dashboard returns today's headline metrics.
func (h *Handler) Dashboard(c *fiber.Ctx) error {
	d, err := h.accounting.DashboardForToday(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(d)
}

// AccountingSummary returns the per-validator income/paid/outstanding rows
// for the requested date (default today).
func (h *Handler) AccountingSummary(c *fiber.Ctx) error {
	summary, err := h.accounting.SummaryForDay(c.UserContext(), c.Query("date"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(summary)
}

type payoutRequest struct {
	ValidatorID string `json:"validatorId"`
	Amount      int64  `json:"amount"`
	Method      string `json:"method"`
	Note        string `json:"note"`
	Date        string `json:"date"`
}

// CreatePayout records a manual payout to a validator's operator.
func (h *Handler) CreatePayout(c *fiber.Ctx) error {
	var req payoutRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	payout, err := h.accounting.CreatePayout(c.UserContext(), accounting.PayoutInput{
		ValidatorID: req.ValidatorID,
		Amount:      req.Amount,
		Method:      req.Method,
		Note:        req.Note,
		Date:        req.Date,
		Actor:       actor(c),
		IP:          c.IP(),
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(payout)
}

// ListTransactions returns the most recent accepted transactions.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	if day := c.Query("date"); day != "" {
		txs, err := h.store.ListTransactionsByDay(c.UserContext(), day)
		if err != nil {
			return mapError(err)
		}
		return c.JSON(fiber.Map{"transactions": txs})
	}
	txs, err := h.store.ListRecentTransactions(c.UserContext(), limitParam(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"transactions": txs})
}

// ListCustomers searches the customer registry.
func (h *Handler) ListCustomers(c *fiber.Ctx) error {
	customers, err := h.store.ListCustomers(c.UserContext(), c.Query("query"), limitParam(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"customers": customers})
}

type adjustBalanceRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// AdjustCustomerBalance applies a signed delta to a customer balance.
func (h *Handler) AdjustCustomerBalance(c *fiber.Ctx) error {
	var req adjustBalanceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	customer, err := h.service.AdjustCustomerBalance(c.UserContext(), c.Params("id"), req.Amount, MutationMeta{
		Actor:  actor(c),
		Reason: req.Reason,
		IP:     c.IP(),
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(customer)
}

// ListCards searches the card registry.
func (h *Handler) ListCards(c *fiber.Ctx) error {
	cards, err := h.store.ListCards(c.UserContext(), c.Query("query"), limitParam(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"cards": cards})
}

type cardStatusRequest struct {
	Reason string `json:"reason"`
}

// BlockCard marks a card blocked.
func (h *Handler) BlockCard(c *fiber.Ctx) error {
	return h.setCardStatus(c, h.service.BlockCard)
}

// UnblockCard returns a card to service.
func (h *Handler) UnblockCard(c *fiber.Ctx) error {
	return h.setCardStatus(c, h.service.UnblockCard)
}

func (h *Handler) setCardStatus(c *fiber.Ctx, op func(ctx context.Context, uid string, meta MutationMeta) (ledger.Card, error)) error {
	var req cardStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	card, err := op(c.UserContext(), c.Params("uid"), MutationMeta{
		Actor:  actor(c),
		Reason: req.Reason,
		IP:     c.IP(),
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(card)
}

// ListAudit returns the most recent audit entries.
func (h *Handler) ListAudit(c *fiber.Ctx) error {
	entries, err := h.store.ListAudit(c.UserContext(), limitParam(c))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"audit": entries})
}

// ListValidators returns every validator with liveness and today's income.
func (h *Handler) ListValidators(c *fiber.Ctx) error {
	overviews, err := h.service.ValidatorOverviews(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"validators": overviews})
}

type registerValidatorRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Route  string `json:"route"`
	FareID string `json:"fareId"`
}

// RegisterValidator creates a validator and returns its device key once.
func (h *Handler) RegisterValidator(c *fiber.Ctx) error {
	var req registerValidatorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	v, err := h.service.RegisterValidator(c.UserContext(), RegisterValidatorInput{
		ID:     req.ID,
		Name:   req.Name,
		Route:  req.Route,
		FareID: req.FareID,
	})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(v)
}

// ListFares returns the fare registry with the default fare id.
func (h *Handler) ListFares(c *fiber.Ctx) error {
	fares, err := h.store.ListFares(c.UserContext())
	if err != nil {
		return mapError(err)
	}
	defaultID, err := h.store.DefaultFareID(c.UserContext())
	if err != nil && !errors.Is(err, ledger.ErrNotFound) {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"fares": fares, "defaultFareId": defaultID})
}

type fareRequest struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

// CreateFare registers a named fare.
func (h *Handler) CreateFare(c *fiber.Ctx) error {
	var req fareRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	fare, err := h.service.CreateFare(c.UserContext(), ledger.Fare{ID: req.ID, Name: req.Name, Amount: req.Amount})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(fare)
}

type defaultFareRequest struct {
	FareID string `json:"fareId"`
}

// SetDefaultFare updates the registry-wide default fare.
func (h *Handler) SetDefaultFare(c *fiber.Ctx) error {
	var req defaultFareRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.SetDefaultFare(c.UserContext(), req.FareID); err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"ok": true, "defaultFareId": req.FareID})
}

func actor(c *fiber.Ctx) string {
	a, _ := c.Locals(ActorLocal).(string)
	return a
}

func limitParam(c *fiber.Ctx) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return defaultListLimit
	}
	return n
}

// mapError translates service sentinels into structured HTTP failures.
// Validation rejections leave no partial effect, so a plain 4xx is safe.
func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrUnknownFare),
		errors.Is(err, accounting.ErrInvalidAmount),
		errors.Is(err, accounting.ErrValidatorRequired),
		errors.Is(err, audit.ErrReasonRequired),
		errors.Is(err, ErrInvalidAdjustment),
		errors.Is(err, ErrInvalidFare):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrInvalidToken):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
