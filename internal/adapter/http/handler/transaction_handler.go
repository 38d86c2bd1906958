package handler

import (
	"math"
	"strconv"

	"checkout-core/internal/adapter/http/dto"
	"checkout-core/internal/adapter/http/middleware"
	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"
	"checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionHandler handles ledger endpoints.
type TransactionHandler struct {
	txnSvc ports.TransactionService
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(txnSvc ports.TransactionService) *TransactionHandler {
	return &TransactionHandler{txnSvc: txnSvc}
}

// Create handles POST /api/v1/transactions.
func (h *TransactionHandler) Create(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	var req dto.CreateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	svcReq := ports.CreateTransactionRequest{
		Provider:       req.Provider,
		Currency:       req.Currency,
		Description:    req.Description,
		Reference:      req.Reference,
		Metadata:       req.Metadata,
		IdempotencyKey: middleware.IdempotencyKeyFromContext(c),
	}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			response.Error(c, apperror.Validation("amount must be a decimal string"))
			return
		}
		svcReq.Amount = &amount
	}
	if req.CartID != nil {
		cartID, err := uuid.Parse(*req.CartID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid cart id"))
			return
		}
		svcReq.CartID = &cartID
	}

	txn, err := h.txnSvc.Create(c.Request.Context(), actor, svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(txn))
}

// Process handles POST /api/v1/transactions/:id/process. The body is
// optional; the customer email defaults to the token's email claim.
func (h *TransactionHandler) Process(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	txnID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	var req dto.ProcessTransactionRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	svcReq := ports.ProcessRequest{ReturnURL: req.ReturnURL}
	if req.Customer != nil {
		dto.SanitizeStruct(req.Customer)
		svcReq.Customer = ports.CustomerInfo{
			Email:     req.Customer.Email,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Phone:     req.Customer.Phone,
		}
	}
	if svcReq.Customer.Email == "" {
		svcReq.Customer.Email = c.GetString(middleware.CtxUserEmail)
	}

	result, err := h.txnSvc.Process(c.Request.Context(), actor, txnID, svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.CheckoutResponse{
		Transaction: toTransactionResponse(result.Transaction),
		CheckoutURL: result.CheckoutURL,
	})
}

// Verify handles POST /api/v1/transactions/:id/verify. It queries the
// provider synchronously and settles the transaction from the answer.
func (h *TransactionHandler) Verify(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	txnID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	txn, err := h.txnSvc.Verify(c.Request.Context(), actor, txnID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// Refund handles POST /api/v1/transactions/:id/refund.
func (h *TransactionHandler) Refund(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	txnID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	var req dto.RefundTransactionRequest
	if c.Request.Body != nil && c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}
	dto.SanitizeStruct(&req)

	svcReq := ports.RefundRequest{
		Reason:         req.Reason,
		IdempotencyKey: middleware.IdempotencyKeyFromContext(c),
	}
	if req.Amount != nil {
		amount, err := decimal.NewFromString(*req.Amount)
		if err != nil {
			response.Error(c, apperror.Validation("amount must be a decimal string"))
			return
		}
		svcReq.Amount = &amount
	}

	refund, err := h.txnSvc.Refund(c.Request.Context(), actor, txnID, svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, toTransactionResponse(refund))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	txnID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid transaction id"))
		return
	}

	txn, err := h.txnSvc.Get(c.Request.Context(), actor, txnID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toTransactionResponse(txn))
}

// List handles GET /api/v1/transactions.
func (h *TransactionHandler) List(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	params := ports.TransactionListParams{
		Page:     page,
		PageSize: pageSize,
	}
	if s := c.Query("status"); s != "" {
		status := domain.TransactionStatus(s)
		params.Status = &status
	}
	if t := c.Query("type"); t != "" {
		txType := domain.TransactionType(t)
		params.Type = &txType
	}
	if p := c.Query("provider"); p != "" {
		params.Provider = &p
	}

	txns, total, err := h.txnSvc.List(c.Request.Context(), actor, params)
	if err != nil {
		response.Error(c, err)
		return
	}

	items := make([]dto.TransactionResponse, 0, len(txns))
	for i := range txns {
		items = append(items, toTransactionResponse(&txns[i]))
	}

	totalPages := int(math.Ceil(float64(total) / float64(pageSize)))

	response.OK(c, dto.TransactionListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	})
}

// Stats handles GET /api/v1/transactions/stats.
func (h *TransactionHandler) Stats(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	stats, err := h.txnSvc.Stats(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, dto.TransactionStatsResponse{
		TotalTransactions: stats.TotalTransactions,
		Succeeded:         stats.Succeeded,
		Failed:            stats.Failed,
		Refunded:          stats.Refunded,
		TotalPaid:         stats.TotalPaid.String(),
		TotalRefunded:     stats.TotalRefunded.String(),
	})
}

// toTransactionResponse converts domain.Transaction to DTO.
func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	resp := dto.TransactionResponse{
		ID:            tx.ID.String(),
		Reference:     tx.Reference,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		Provider:      tx.Provider,
		Amount:        tx.Amount.String(),
		Currency:      tx.Currency,
		Description:   tx.Description,
		ProviderTxID:  tx.ProviderTxID,
		FailureReason: tx.FailureReason,
		Metadata:      tx.Metadata,
		CreatedAt:     tx.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if tx.FeeAmount != nil {
		s := tx.FeeAmount.String()
		resp.FeeAmount = &s
	}
	if tx.CartID != nil {
		s := tx.CartID.String()
		resp.CartID = &s
	}
	if tx.ParentID != nil {
		s := tx.ParentID.String()
		resp.ParentID = &s
	}
	if tx.CompletedAt != nil {
		s := tx.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
		resp.CompletedAt = &s
	}
	return resp
}
