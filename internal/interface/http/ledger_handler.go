package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/sakuapp/saku/internal/application"
	"github.com/sakuapp/saku/internal/budget"
	"github.com/sakuapp/saku/internal/domain/entity"
	"github.com/sakuapp/saku/pkg/response"
	"github.com/sakuapp/saku/pkg/validation"
)

type LedgerHandler struct {
	Svc    *application.LedgerService
	Logger *logrus.Logger
}

func NewLedgerHandler(svc *application.LedgerService, logger *logrus.Logger) *LedgerHandler {
	return &LedgerHandler{Svc: svc, Logger: logger}
}

// fail maps service errors onto HTTP responses. Validation failures carry
// their field detail; anything else is a 500 with the error logged.
func (h *LedgerHandler) fail(c *gin.Context, err error) {
	var vErr *entity.ValidationError
	if errors.As(err, &vErr) {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{vErr.Field: vErr.Reason})
		return
	}
	h.Logger.WithError(err).WithField("path", c.FullPath()).Error("ledger operation failed")
	response.Error[any](c, http.StatusInternalServerError, "ledger operation failed", nil)
}

func (h *LedgerHandler) GetLedger(c *gin.Context) {
	ledger, err := h.Svc.Snapshot(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ledgerView(ledger), "ledger", nil)
}

type addTransactionRequest struct {
	Merchant  string     `json:"merchant" binding:"required"`
	Category  string     `json:"category"`
	Amount    int64      `json:"amount" binding:"required,gt=0"`
	Sentiment string     `json:"sentiment" binding:"omitempty,oneof=worthy regret neutral"`
	Timestamp *time.Time `json:"timestamp"`
}

func (h *LedgerHandler) AddTransaction(c *gin.Context) {
	var req addTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	in := application.AddTransactionInput{
		Merchant:  req.Merchant,
		Category:  req.Category,
		Amount:    req.Amount,
		Sentiment: req.Sentiment,
	}
	if req.Timestamp != nil {
		in.Timestamp = *req.Timestamp
	}
	ledger, err := h.Svc.AddTransaction(c.Request.Context(), c.GetString("userID"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ledgerView(ledger), "transaction added", nil)
}

type addFixedExpenseRequest struct {
	Name   string `json:"name" binding:"required"`
	Amount int64  `json:"amount" binding:"gte=0"`
}

func (h *LedgerHandler) AddFixedExpense(c *gin.Context) {
	var req addFixedExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	ledger, err := h.Svc.AddFixedExpense(c.Request.Context(), c.GetString("userID"), req.Name, req.Amount)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ledgerView(ledger), "fixed expense added", nil)
}

func (h *LedgerHandler) RemoveFixedExpense(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"index": "must be a valid number"})
		return
	}
	ledger, err := h.Svc.RemoveFixedExpense(c.Request.Context(), c.GetString("userID"), index)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ledgerView(ledger), "fixed expense removed", nil)
}

type addGoalRequest struct {
	Name         string    `json:"name" binding:"required"`
	TargetAmount int64     `json:"target_amount" binding:"required,gt=0"`
	Deadline     time.Time `json:"deadline" binding:"required"`
}

func (h *LedgerHandler) AddGoal(c *gin.Context) {
	var req addGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	ledger, err := h.Svc.AddGoal(c.Request.Context(), c.GetString("userID"), req.Name, req.TargetAmount, req.Deadline)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ledgerView(ledger), "goal added", nil)
}

func (h *LedgerHandler) RemoveGoal(c *gin.Context) {
	ledger, err := h.Svc.RemoveGoal(c.Request.Context(), c.GetString("userID"), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ledgerView(ledger), "goal removed", nil)
}

type addLoanRequest struct {
	Type         string `json:"type" binding:"required,oneof=borrow lend"`
	Counterparty string `json:"counterparty" binding:"required"`
	Amount       int64  `json:"amount" binding:"required,gt=0"`
	DurationDays int    `json:"duration_days" binding:"required,gt=0"`
}

func (h *LedgerHandler) AddLoan(c *gin.Context) {
	var req addLoanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	ledger, err := h.Svc.AddLoan(c.Request.Context(), c.GetString("userID"), req.Type, req.Counterparty, req.Amount, req.DurationDays)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ledgerView(ledger), "loan added", nil)
}

type setMonthlyLimitRequest struct {
	MonthlyLimit int64 `json:"monthly_limit" binding:"gte=0"`
}

func (h *LedgerHandler) SetMonthlyLimit(c *gin.Context) {
	var req setMonthlyLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	ledger, err := h.Svc.SetMonthlyLimit(c.Request.Context(), c.GetString("userID"), req.MonthlyLimit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ledgerView(ledger), "monthly limit updated", nil)
}

type updateProfileRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone" binding:"omitempty,phone"`
	AvatarURL string `json:"avatar_url" binding:"omitempty,url"`
}

func (h *LedgerHandler) UpdateProfile(c *gin.Context) {
	var req updateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	ledger, err := h.Svc.UpdateProfile(c.Request.Context(), c.GetString("userID"), application.UpdateProfileInput{
		Name: req.Name, Phone: req.Phone, AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, ledgerView(ledger), "profile updated", nil)
}

type createGroupRequest struct {
	Name    string `json:"name" binding:"required"`
	Members []struct {
		Name  string `json:"name" binding:"required"`
		Phone string `json:"phone"`
		Email string `json:"email" binding:"omitempty,email"`
	} `json:"members" binding:"dive"`
}

func (h *LedgerHandler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	members := make([]entity.GroupMember, 0, len(req.Members))
	for _, m := range req.Members {
		members = append(members, entity.GroupMember{Name: m.Name, Phone: m.Phone, Email: m.Email})
	}
	ledger, err := h.Svc.CreateGroup(c.Request.Context(), c.GetString("userID"), req.Name, members)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ledgerView(ledger), "group created", nil)
}

type postMessageRequest struct {
	Type   string `json:"type" binding:"required,oneof=text split system"`
	Author string `json:"author" binding:"required"`
	Text   string `json:"text"`
	Item   string `json:"item"`
	Amount int64  `json:"amount" binding:"gte=0"`
}

func (h *LedgerHandler) PostMessage(c *gin.Context) {
	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", validation.ToDetails(err))
		return
	}
	ledger, err := h.Svc.PostMessage(c.Request.Context(), c.GetString("userID"), c.Param("group"), application.PostMessageInput{
		Type: req.Type, Author: req.Author, Text: req.Text, Item: req.Item, Amount: req.Amount,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, ledgerView(ledger), "message posted", nil)
}

func (h *LedgerHandler) SafeSpend(c *gin.Context) {
	amount, err := h.Svc.SafeSpend(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"safe_spend": amount}, "daily safe spend", nil)
}

func (h *LedgerHandler) Heatmap(c *gin.Context) {
	cells, err := h.Svc.Heatmap(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, cells, "spending calendar", nil)
}

func (h *LedgerHandler) Sentiment(c *gin.Context) {
	filter := budget.ParseTimeFilter(c.Query("filter"))
	totals, err := h.Svc.Sentiment(c.Request.Context(), c.GetString("userID"), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, totals, "sentiment totals", map[string]any{"filter": filter})
}

func (h *LedgerHandler) SearchTransactions(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		response.Error[any](c, http.StatusBadRequest, "invalid payload", map[string]string{"q": "is required"})
		return
	}
	size, _ := strconv.Atoi(c.DefaultQuery("size", "10"))
	hits, err := h.Svc.SearchTransactions(c.Request.Context(), c.GetString("userID"), q, size)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, hits, "search results", map[string]any{"count": len(hits)})
}
