package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/internal/middleware"
)

// ledgerHandler serves the one-shot REST view of the caller's ledger. Live
// updates flow over the sync connection instead.
type ledgerHandler struct {
	budgetService portssvc.BudgetSvcFacade
}

func newLedgerHandler(bs portssvc.BudgetSvcFacade) *ledgerHandler {
	return &ledgerHandler{budgetService: bs}
}

// registerLedgerRoutes registers the ledger fetch route.
func registerLedgerRoutes(rg *gin.RouterGroup, bs portssvc.BudgetSvcFacade) {
	h := newLedgerHandler(bs)
	rg.GET("/ledger", h.getLedger)
}

func (h *ledgerHandler) getLedger(c *gin.Context) {
	logger := middleware.GetLoggerFromCtx(c.Request.Context())

	userID, ok := middleware.GetUserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	entries, state, err := h.budgetService.Snapshot(c.Request.Context(), userID)
	if err != nil {
		logger.Error("Failed to load ledger", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load ledger"})
		return
	}

	c.JSON(http.StatusOK, dto.LedgerResponse{
		UserID:      userID,
		Entries:     entries,
		BudgetState: state,
	})
}
