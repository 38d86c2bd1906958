package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-core/internal/adapter/http/dto"
	"checkout-core/internal/adapter/http/middleware"
	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"
	"checkout-core/internal/core/ports/mocks"
	"checkout-core/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func sampleCart(owner uuid.UUID) *domain.Cart {
	now := time.Now()
	cartID := uuid.New()
	return &domain.Cart{
		ID:       cartID,
		UserID:   &owner,
		Status:   domain.CartStatusActive,
		Currency: "ETB",
		Subtotal: decimal.RequireFromString("300"),
		Total:    decimal.RequireFromString("300"),
		Items: []domain.CartItem{
			{
				ID:        uuid.New(),
				CartID:    cartID,
				ProductID: uuid.New(),
				Quantity:  2,
				UnitPrice: decimal.RequireFromString("150"),
				LineTotal: decimal.RequireFromString("300"),
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func samplePayment(owner uuid.UUID, status domain.TransactionStatus) *domain.Transaction {
	return &domain.Transaction{
		ID:        uuid.New(),
		Reference: "TX-1A2B3C4D5E6F",
		UserID:    owner,
		Provider:  "chapa",
		Type:      domain.TransactionTypePayment,
		Status:    status,
		Amount:    decimal.RequireFromString("250"),
		Currency:  "ETB",
		CreatedAt: time.Now(),
	}
}

// --- Cart Handler Tests ---

func TestGetCurrentCart_CreatesNew(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	actor := domain.GuestActor("guest-session-9")
	cart := sampleCart(uuid.New())
	mockCart.EXPECT().GetOrCreateActive(gomock.Any(), actor).Return(cart, true, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/carts/current", nil)
	c.Set(middleware.CtxActor, actor)

	h.GetCurrent(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, cart.ID.String(), data["id"])
	assert.Equal(t, "active", data["status"])
	assert.Equal(t, "300", data["total"])
}

func TestGetCurrentCart_ReturnsExisting(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	actor := domain.GuestActor("guest-session-9")
	cart := sampleCart(uuid.New())
	mockCart.EXPECT().GetOrCreateActive(gomock.Any(), actor).Return(cart, false, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/carts/current", nil)
	c.Set(middleware.CtxActor, actor)

	h.GetCurrent(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetCurrentCart_MissingActor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/carts/current", nil)

	h.GetCurrent(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetCart_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	cart := sampleCart(userID)
	mockCart.EXPECT().Get(gomock.Any(), actor, cart.ID).Return(cart, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: cart.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.Get(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	assert.Len(t, items, 1)
	assert.Equal(t, float64(2), data["item_count"])
}

func TestGetCart_InvalidID(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
	c.Set(middleware.CtxActor, domain.GuestActor("guest-session-9"))

	h.Get(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddItem_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	cart := sampleCart(userID)
	productID := uuid.New()

	var captured ports.AddItemRequest
	mockCart.EXPECT().AddItem(gomock.Any(), actor, cart.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, _ uuid.UUID, req ports.AddItemRequest) (*domain.Cart, error) {
			captured = req
			return cart, nil
		})

	body, _ := json.Marshal(dto.AddItemRequest{
		ProductID: productID.String(),
		Quantity:  2,
		Notes:     "gift wrap",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: cart.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.AddItem(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, productID, captured.ProductID)
	assert.Equal(t, 2, captured.Quantity)
	assert.Equal(t, "gift wrap", captured.Notes)
	assert.Nil(t, captured.VariantID)
}

func TestAddItem_BindingError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{}")))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: uuid.New().String()}}
	c.Set(middleware.CtxActor, domain.GuestActor("guest-session-9"))

	h.AddItem(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAddItem_InsufficientStock(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	actor := domain.GuestActor("guest-session-9")
	cartID := uuid.New()
	mockCart.EXPECT().AddItem(gomock.Any(), actor, cartID, gomock.Any()).
		Return(nil, apperror.ErrInsufficientStock("Only 1 of Ceramic Mug available"))

	body, _ := json.Marshal(dto.AddItemRequest{
		ProductID: uuid.New().String(),
		Quantity:  5,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: cartID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.AddItem(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "CART_001", resp["error_code"])
}

func TestUpdateItem_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	cart := sampleCart(userID)
	itemID := cart.Items[0].ID
	mockCart.EXPECT().UpdateItem(gomock.Any(), actor, cart.ID, itemID, 4).Return(cart, nil)

	body, _ := json.Marshal(dto.UpdateItemRequest{Quantity: 4})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPatch, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{
		{Key: "id", Value: cart.ID.String()},
		{Key: "item_id", Value: itemID.String()},
	}
	c.Set(middleware.CtxActor, actor)

	h.UpdateItem(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRemoveItem_NoContent(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	cart := sampleCart(userID)
	itemID := cart.Items[0].ID
	mockCart.EXPECT().RemoveItem(gomock.Any(), actor, cart.ID, itemID).Return(cart, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodDelete, "/", nil)
	c.Params = gin.Params{
		{Key: "id", Value: cart.ID.String()},
		{Key: "item_id", Value: itemID.String()},
	}
	c.Set(middleware.CtxActor, actor)

	h.RemoveItem(c)
	// Flush gin's buffered status into the recorder; outside a test the
	// engine does this after the handler chain completes.
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestClearCart_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	cart := sampleCart(userID)
	cart.Items = []domain.CartItem{}
	cart.Subtotal = decimal.Zero
	cart.Total = decimal.Zero
	mockCart.EXPECT().Clear(gomock.Any(), actor, cart.ID).Return(cart, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: cart.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.Clear(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "0", data["total"])
	assert.Empty(t, data["items"])
}

func TestMergeCart_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	cart := sampleCart(userID)
	mockCart.EXPECT().Merge(gomock.Any(), actor, "guest-session-9").Return(cart, nil)

	body, _ := json.Marshal(dto.MergeCartRequest{SessionToken: "guest-session-9"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxActor, actor)

	h.Merge(c)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMergeCart_MissingToken(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockCart := mocks.NewMockCartService(ctrl)
	h := NewCartHandler(mockCart)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{}")))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxActor, domain.UserActor(uuid.New()))

	h.Merge(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Transaction Handler Tests ---

func TestCreateTransaction_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	txn := samplePayment(userID, domain.TransactionStatusPending)

	var captured ports.CreateTransactionRequest
	mockTxn.EXPECT().Create(gomock.Any(), actor, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, req ports.CreateTransactionRequest) (*domain.Transaction, error) {
			captured = req
			return txn, nil
		})

	amount := "250.00"
	body, _ := json.Marshal(dto.CreateTransactionRequest{
		Provider: "chapa",
		Amount:   &amount,
		Currency: "ETB",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxActor, actor)

	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, captured.Amount)
	assert.True(t, captured.Amount.Equal(decimal.RequireFromString("250.00")))
	assert.Equal(t, "chapa", captured.Provider)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, txn.ID.String(), data["id"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "250", data["amount"])
}

func TestCreateTransaction_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	amount := "two hundred"
	body, _ := json.Marshal(dto.CreateTransactionRequest{
		Provider: "chapa",
		Amount:   &amount,
		Currency: "ETB",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxActor, domain.UserActor(uuid.New()))

	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateTransaction_ForwardsIdempotencyKey(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	txn := samplePayment(userID, domain.TransactionStatusPending)

	var captured ports.CreateTransactionRequest
	mockTxn.EXPECT().Create(gomock.Any(), actor, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, req ports.CreateTransactionRequest) (*domain.Transaction, error) {
			captured = req
			return txn, nil
		})

	cartID := uuid.New().String()
	body, _ := json.Marshal(dto.CreateTransactionRequest{
		Provider: "chapa",
		CartID:   &cartID,
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxActor, actor)
	c.Set(middleware.CtxIdempotencyKey, "retry-key-9")

	h.Create(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "retry-key-9", captured.IdempotencyKey)
	require.NotNil(t, captured.CartID)
	assert.Equal(t, cartID, captured.CartID.String())
}

func TestCreateTransaction_UnsupportedCurrency(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	mockTxn.EXPECT().Create(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrUnsupportedCurrency("GBP", "chapa"))

	amount := "100.00"
	body, _ := json.Marshal(dto.CreateTransactionRequest{
		Provider: "chapa",
		Amount:   &amount,
		Currency: "GBP",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Set(middleware.CtxActor, domain.UserActor(uuid.New()))

	h.Create(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_003", resp["error_code"])
}

func TestProcessTransaction_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	txn := samplePayment(userID, domain.TransactionStatusProcessing)

	var captured ports.ProcessRequest
	mockTxn.EXPECT().Process(gomock.Any(), actor, txn.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, _ uuid.UUID, req ports.ProcessRequest) (*ports.CheckoutResult, error) {
			captured = req
			return &ports.CheckoutResult{
				Transaction: txn,
				CheckoutURL: "https://checkout.chapa.co/checkout/payment/abc123",
			}, nil
		})

	body, _ := json.Marshal(dto.ProcessTransactionRequest{
		Customer: &dto.CustomerRequest{
			Email:     "abebe@example.com",
			FirstName: "Abebe",
			LastName:  "Bikila",
		},
		ReturnURL: "https://shop.example.com/orders/42",
	})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: txn.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.Process(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abebe@example.com", captured.Customer.Email)
	assert.Equal(t, "https://shop.example.com/orders/42", captured.ReturnURL)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "https://checkout.chapa.co/checkout/payment/abc123", data["checkout_url"])
	txnData := data["transaction"].(map[string]interface{})
	assert.Equal(t, "processing", txnData["status"])
}

func TestProcessTransaction_EmailDefaultsToClaim(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	txn := samplePayment(userID, domain.TransactionStatusProcessing)

	var captured ports.ProcessRequest
	mockTxn.EXPECT().Process(gomock.Any(), actor, txn.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, _ uuid.UUID, req ports.ProcessRequest) (*ports.CheckoutResult, error) {
			captured = req
			return &ports.CheckoutResult{Transaction: txn, CheckoutURL: "https://checkout.chapa.co/x"}, nil
		})

	// Empty body: the email falls back to the token claim.
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txn.ID.String()}}
	c.Set(middleware.CtxActor, actor)
	c.Set(middleware.CtxUserEmail, "abebe@example.com")

	h.Process(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abebe@example.com", captured.Customer.Email)
}

func TestVerifyTransaction_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	txn := samplePayment(userID, domain.TransactionStatusSucceeded)
	fee := decimal.RequireFromString("9.06")
	txn.FeeAmount = &fee
	mockTxn.EXPECT().Verify(gomock.Any(), actor, txn.ID).Return(txn, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txn.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.Verify(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "succeeded", data["status"])
	assert.Equal(t, "9.06", data["fee_amount"])
}

func TestRefundTransaction_FullRefund(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	parent := samplePayment(userID, domain.TransactionStatusRefunded)
	refund := samplePayment(userID, domain.TransactionStatusSucceeded)
	refund.Type = domain.TransactionTypeRefund
	refund.Reference = "REFUND-TX-1A2B3C4D5E6F"
	refund.ParentID = &parent.ID

	var captured ports.RefundRequest
	mockTxn.EXPECT().Refund(gomock.Any(), actor, parent.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, _ uuid.UUID, req ports.RefundRequest) (*domain.Transaction, error) {
			captured = req
			return refund, nil
		})

	body, _ := json.Marshal(dto.RefundTransactionRequest{Reason: "damaged item"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: parent.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.Refund(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Nil(t, captured.Amount)
	assert.Equal(t, "damaged item", captured.Reason)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "refund", data["transaction_type"])
	assert.Equal(t, parent.ID.String(), data["parent_transaction_id"])
}

func TestRefundTransaction_PartialAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)
	parent := samplePayment(userID, domain.TransactionStatusPartiallyRefunded)
	refund := samplePayment(userID, domain.TransactionStatusSucceeded)
	refund.Type = domain.TransactionTypePartialRefund

	var captured ports.RefundRequest
	mockTxn.EXPECT().Refund(gomock.Any(), actor, parent.ID, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, _ uuid.UUID, req ports.RefundRequest) (*domain.Transaction, error) {
			captured = req
			return refund, nil
		})

	amount := "100.00"
	body, _ := json.Marshal(dto.RefundTransactionRequest{Amount: &amount, Reason: "partial return"})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	c.Params = gin.Params{{Key: "id", Value: parent.ID.String()}}
	c.Set(middleware.CtxActor, actor)

	h.Refund(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, captured.Amount)
	assert.True(t, captured.Amount.Equal(decimal.RequireFromString("100.00")))
}

func TestRefundTransaction_NotRefundable(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	txnID := uuid.New()
	mockTxn.EXPECT().Refund(gomock.Any(), gomock.Any(), txnID, gomock.Any()).
		Return(nil, apperror.ErrNotRefundable())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txnID.String()}}
	c.Set(middleware.CtxActor, domain.UserActor(uuid.New()))

	h.Refund(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_005", resp["error_code"])
}

func TestGetTransaction_NotFound(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	txnID := uuid.New()
	mockTxn.EXPECT().Get(gomock.Any(), gomock.Any(), txnID).
		Return(nil, apperror.ErrNotFound("transaction"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Params = gin.Params{{Key: "id", Value: txnID.String()}}
	c.Set(middleware.CtxActor, domain.UserActor(uuid.New()))

	h.Get(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListTransactions_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	userID := uuid.New()
	actor := domain.UserActor(userID)

	var captured ports.TransactionListParams
	mockTxn.EXPECT().List(gomock.Any(), actor, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			captured = params
			return []domain.Transaction{*samplePayment(userID, domain.TransactionStatusSucceeded)}, 1, nil
		})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?page=1&page_size=20&status=succeeded", nil)
	c.Set(middleware.CtxActor, actor)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, captured.Status)
	assert.Equal(t, domain.TransactionStatusSucceeded, *captured.Status)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	items := data["items"].([]interface{})
	assert.Len(t, items, 1)
	assert.Equal(t, float64(1), data["total"])
	assert.Equal(t, float64(1), data["total_pages"])
}

func TestListTransactions_ClampsPageSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	actor := domain.UserActor(uuid.New())

	var captured ports.TransactionListParams
	mockTxn.EXPECT().List(gomock.Any(), actor, gomock.Any()).DoAndReturn(
		func(_ context.Context, _ domain.ActorContext, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
			captured = params
			return nil, 0, nil
		})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?page_size=500", nil)
	c.Set(middleware.CtxActor, actor)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 100, captured.PageSize)
	assert.Equal(t, 1, captured.Page)
}

func TestTransactionStats_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewTransactionHandler(mockTxn)

	actor := domain.UserActor(uuid.New())
	mockTxn.EXPECT().Stats(gomock.Any(), actor).Return(&ports.TransactionStats{
		TotalTransactions: 12,
		Succeeded:         9,
		Failed:            2,
		Refunded:          1,
		TotalPaid:         decimal.RequireFromString("4250.50"),
		TotalRefunded:     decimal.RequireFromString("250"),
	}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(middleware.CtxActor, actor)

	h.Stats(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, float64(12), data["total_transactions"])
	assert.Equal(t, "4250.5", data["total_paid"])
}

// --- Webhook Handler Tests ---

func TestWebhook_Processed(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewWebhookHandler(mockTxn)

	txn := samplePayment(uuid.New(), domain.TransactionStatusSucceeded)
	payload := []byte(`{"event":"charge.success","tx_ref":"TX-1A2B3C4D5E6F","status":"success"}`)

	mockTxn.EXPECT().HandleWebhook(gomock.Any(), "chapa", payload, "sig-abc").
		Return(&ports.WebhookHandleResult{
			Outcome:     domain.WebhookOutcomeProcessed,
			Transaction: txn,
		}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(payload))
	c.Request.Header.Set("Chapa-Signature", "sig-abc")
	c.Params = gin.Params{{Key: "provider", Value: "chapa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "processed", data["outcome"])
	assert.Equal(t, txn.ID.String(), data["transaction_id"])
	assert.Equal(t, "TX-1A2B3C4D5E6F", data["reference"])
}

func TestWebhook_Duplicate(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewWebhookHandler(mockTxn)

	mockTxn.EXPECT().HandleWebhook(gomock.Any(), "chapa", gomock.Any(), gomock.Any()).
		Return(&ports.WebhookHandleResult{Outcome: domain.WebhookOutcomeDuplicate}, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{}`)))
	c.Request.Header.Set("Chapa-Signature", "sig-abc")
	c.Params = gin.Params{{Key: "provider", Value: "chapa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "duplicate", data["outcome"])
	_, hasTxnID := data["transaction_id"]
	assert.False(t, hasTxnID)
}

func TestWebhook_InvalidSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewWebhookHandler(mockTxn)

	mockTxn.EXPECT().HandleWebhook(gomock.Any(), "chapa", gomock.Any(), "bad-sig").
		Return(nil, apperror.ErrInvalidSignature())

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{}`)))
	c.Request.Header.Set("X-Webhook-Signature", "bad-sig")
	c.Params = gin.Params{{Key: "provider", Value: "chapa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SEC_001", resp["error_code"])
}

func TestWebhook_UnknownReference(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockTxn := mocks.NewMockTransactionService(ctrl)
	h := NewWebhookHandler(mockTxn)

	mockTxn.EXPECT().HandleWebhook(gomock.Any(), "chapa", gomock.Any(), gomock.Any()).
		Return(nil, apperror.ErrNotFound("transaction"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte(`{"tx_ref":"TX-UNKNOWN"}`)))
	c.Request.Header.Set("Chapa-Signature", "sig-abc")
	c.Params = gin.Params{{Key: "provider", Value: "chapa"}}

	h.Handle(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// --- Provider Handler Tests ---

func TestListProviders(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := mocks.NewMockGatewayRegistry(ctrl)
	gw := mocks.NewMockSettlementGateway(ctrl)
	h := NewProviderHandler(registry)

	gw.EXPECT().Key().Return("chapa")
	gw.EXPECT().DisplayName().Return("Chapa")
	gw.EXPECT().SupportedCurrencies().Return([]string{"ETB", "USD"})
	registry.EXPECT().List().Return([]ports.SettlementGateway{gw})

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	h.List(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	items := resp["data"].([]interface{})
	require.Len(t, items, 1)
	first := items[0].(map[string]interface{})
	assert.Equal(t, "chapa", first["key"])
	assert.Equal(t, "Chapa", first["display_name"])
}

func TestEstimateFee_Success(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := mocks.NewMockGatewayRegistry(ctrl)
	gw := mocks.NewMockSettlementGateway(ctrl)
	h := NewProviderHandler(registry)

	registry.EXPECT().Get("chapa").Return(gw, true)
	gw.EXPECT().EstimateFee(gomock.Any(), "ETB").DoAndReturn(
		func(amount decimal.Decimal, _ string) (decimal.Decimal, error) {
			assert.True(t, amount.Equal(decimal.RequireFromString("362.50")))
			return decimal.RequireFromString("9.06"), nil
		})
	gw.EXPECT().Key().Return("chapa").AnyTimes()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?amount=362.50&currency=etb", nil)
	c.Params = gin.Params{{Key: "key", Value: "chapa"}}

	h.EstimateFee(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "9.06", data["fee"])
	assert.Equal(t, "371.56", data["total"])
	assert.Equal(t, "ETB", data["currency"])
}

func TestEstimateFee_UnknownProvider(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := mocks.NewMockGatewayRegistry(ctrl)
	h := NewProviderHandler(registry)

	registry.EXPECT().Get("telebirr").Return(nil, false)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?amount=100&currency=ETB", nil)
	c.Params = gin.Params{{Key: "key", Value: "telebirr"}}

	h.EstimateFee(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEstimateFee_InvalidAmount(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := mocks.NewMockGatewayRegistry(ctrl)
	gw := mocks.NewMockSettlementGateway(ctrl)
	h := NewProviderHandler(registry)

	registry.EXPECT().Get("chapa").Return(gw, true)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?amount=-5&currency=ETB", nil)
	c.Params = gin.Params{{Key: "key", Value: "chapa"}}

	h.EstimateFee(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEstimateFee_UnsupportedCurrency(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	registry := mocks.NewMockGatewayRegistry(ctrl)
	gw := mocks.NewMockSettlementGateway(ctrl)
	h := NewProviderHandler(registry)

	registry.EXPECT().Get("chapa").Return(gw, true)
	gw.EXPECT().EstimateFee(gomock.Any(), "GBP").Return(decimal.Zero, ports.ErrUnsupportedCurrency)
	gw.EXPECT().Key().Return("chapa").AnyTimes()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/?amount=100&currency=GBP", nil)
	c.Params = gin.Params{{Key: "key", Value: "chapa"}}

	h.EstimateFee(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "PAY_003", resp["error_code"])
}

// --- Health Check Test ---

func TestHealthCheck(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health", nil)

	HealthCheck()(c)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestSwaggerUI(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger", nil)

	SwaggerUI(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "swagger-ui")
	assert.Contains(t, w.Body.String(), "/swagger/spec")
}

func TestSwaggerSpec_Loaded(t *testing.T) {
	SetSwaggerSpec([]byte("openapi: '3.0.0'\ninfo:\n  title: Test"))

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi")
}

func TestSwaggerSpec_NotLoaded(t *testing.T) {
	SetSwaggerSpec(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/swagger/spec", nil)

	SwaggerSpec(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
