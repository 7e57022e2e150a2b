package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/transit-pay/transit_pay/internal/admin"
	"github.com/transit-pay/transit_pay/internal/assist"
	"github.com/transit-pay/transit_pay/internal/ledger"
)

// RegisterAdminRoutes wires the administrative endpoints. The rate limiter
// covers the whole group, login included; everything except login sits
// behind the bearer-token guard; idem, when present, makes the mutating
// endpoints replay-safe.
func RegisterAdminRoutes(r fiber.Router, h *admin.Handler, assistant assist.Assistant, store ledger.Store, limiter, guard, idem fiber.Handler) {
	group := r.Group("/admin", limiter)
	group.Post("/login", h.Login)

	protected := group.Group("", guard)
	if idem != nil {
		protected.Use(idem)
	}

	protected.Get("/dashboard", h.Dashboard)
	protected.Get("/accounting/summary", h.AccountingSummary)
	protected.Post("/accounting/payout", h.CreatePayout)

	protected.Get("/transactions", h.ListTransactions)

	protected.Get("/customers", h.ListCustomers)
	protected.Post("/customers/:id/adjust-balance", h.AdjustCustomerBalance)

	protected.Get("/cards", h.ListCards)
	protected.Post("/cards/:uid/block", h.BlockCard)
	protected.Post("/cards/:uid/unblock", h.UnblockCard)

	protected.Get("/audit", h.ListAudit)

	protected.Get("/validators", h.ListValidators)
	protected.Post("/validators", h.RegisterValidator)

	protected.Get("/fares", h.ListFares)
	protected.Post("/fares", h.CreateFare)
	protected.Post("/config/default-fare", h.SetDefaultFare)

	protected.Post("/assist/summarize", func(c *fiber.Ctx) error {
		var req struct {
			Lines []string `json:"lines"`
		}
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		lines := req.Lines
		if len(lines) == 0 {
			entries, err := store.ListAudit(c.UserContext(), 50)
			if err != nil {
				return fiber.NewError(http.StatusInternalServerError, err.Error())
			}
			for _, e := range entries {
				lines = append(lines, e.Action+" "+e.TargetType+" "+e.TargetID+": "+e.Reason)
			}
		}
		summary, err := assistant.Summarize(c.UserContext(), lines)
		if err != nil {
			// The assistant is advisory; degrade to an empty summary.
			return c.JSON(fiber.Map{"summary": "", "available": false})
		}
		return c.JSON(fiber.Map{"summary": summary, "available": true})
	})
}
