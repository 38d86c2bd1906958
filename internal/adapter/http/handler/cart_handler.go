package handler

import (
	"checkout-core/internal/adapter/http/dto"
	"checkout-core/internal/adapter/http/middleware"
	"checkout-core/internal/core/domain"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"
	"checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CartHandler handles cart endpoints.
type CartHandler struct {
	cartSvc ports.CartService
}

// NewCartHandler creates a new CartHandler.
func NewCartHandler(cartSvc ports.CartService) *CartHandler {
	return &CartHandler{cartSvc: cartSvc}
}

// GetCurrent handles POST /api/v1/carts/current. It returns the actor's
// active cart, creating one on first touch (201 vs 200). New guests pick
// up their session token from the X-Session-Token response header.
func (h *CartHandler) GetCurrent(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	cart, created, err := h.cartSvc.GetOrCreateActive(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}

	if created {
		response.Created(c, toCartResponse(cart))
		return
	}
	response.OK(c, toCartResponse(cart))
}

// Get handles GET /api/v1/carts/:id.
func (h *CartHandler) Get(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid cart id"))
		return
	}

	cart, err := h.cartSvc.Get(c.Request.Context(), actor, cartID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCartResponse(cart))
}

// AddItem handles POST /api/v1/carts/:id/items.
func (h *CartHandler) AddItem(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid cart id"))
		return
	}

	var req dto.AddItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		response.Error(c, apperror.Validation("invalid product id"))
		return
	}

	svcReq := ports.AddItemRequest{
		ProductID:        productID,
		Quantity:         req.Quantity,
		CustomAttributes: req.CustomAttributes,
		Notes:            req.Notes,
	}
	if req.VariantID != nil {
		variantID, err := uuid.Parse(*req.VariantID)
		if err != nil {
			response.Error(c, apperror.Validation("invalid variant id"))
			return
		}
		svcReq.VariantID = &variantID
	}

	cart, err := h.cartSvc.AddItem(c.Request.Context(), actor, cartID, svcReq)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCartResponse(cart))
}

// UpdateItem handles PATCH /api/v1/carts/:id/items/:item_id.
func (h *CartHandler) UpdateItem(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid cart id"))
		return
	}
	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid item id"))
		return
	}

	var req dto.UpdateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	cart, err := h.cartSvc.UpdateItem(c.Request.Context(), actor, cartID, itemID, req.Quantity)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCartResponse(cart))
}

// RemoveItem handles DELETE /api/v1/carts/:id/items/:item_id.
func (h *CartHandler) RemoveItem(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid cart id"))
		return
	}
	itemID, err := uuid.Parse(c.Param("item_id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid item id"))
		return
	}

	if _, err := h.cartSvc.RemoveItem(c.Request.Context(), actor, cartID, itemID); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Clear handles POST /api/v1/carts/:id/clear.
func (h *CartHandler) Clear(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.Validation("invalid cart id"))
		return
	}

	cart, err := h.cartSvc.Clear(c.Request.Context(), actor, cartID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCartResponse(cart))
}

// Merge handles POST /api/v1/carts/merge. The authenticated user absorbs
// the guest cart named by the session token in the body.
func (h *CartHandler) Merge(c *gin.Context) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		response.Error(c, apperror.ErrAuthRequired())
		return
	}

	var req dto.MergeCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	cart, err := h.cartSvc.Merge(c.Request.Context(), actor, req.SessionToken)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, toCartResponse(cart))
}

// toCartResponse converts domain.Cart to DTO.
func toCartResponse(cart *domain.Cart) dto.CartResponse {
	items := make([]dto.CartItemResponse, 0, len(cart.Items))
	for i := range cart.Items {
		items = append(items, toCartItemResponse(&cart.Items[i]))
	}

	resp := dto.CartResponse{
		ID:             cart.ID.String(),
		Status:         string(cart.Status),
		Currency:       cart.Currency,
		Subtotal:       cart.Subtotal.String(),
		TaxAmount:      cart.TaxAmount.String(),
		ShippingAmount: cart.ShippingAmount.String(),
		DiscountAmount: cart.DiscountAmount.String(),
		Total:          cart.Total.String(),
		ItemCount:      cart.ItemCount(),
		Items:          items,
		CreatedAt:      cart.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:      cart.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
	if cart.ExpiresAt != nil {
		s := cart.ExpiresAt.Format("2006-01-02T15:04:05Z07:00")
		resp.ExpiresAt = &s
	}
	return resp
}

func toCartItemResponse(item *domain.CartItem) dto.CartItemResponse {
	resp := dto.CartItemResponse{
		ID:               item.ID.String(),
		ProductID:        item.ProductID.String(),
		Quantity:         item.Quantity,
		UnitPrice:        item.UnitPrice.String(),
		LineTotal:        item.LineTotal.String(),
		CustomAttributes: item.CustomAttributes,
		Notes:            item.Notes,
	}
	if item.VariantID != nil {
		s := item.VariantID.String()
		resp.VariantID = &s
	}
	return resp
}
