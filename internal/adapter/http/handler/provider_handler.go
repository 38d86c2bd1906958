package handler

import (
	"errors"
	"strings"

	"checkout-core/internal/adapter/http/dto"
	"checkout-core/internal/core/ports"
	"checkout-core/pkg/apperror"
	"checkout-core/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ProviderHandler exposes the settlement provider registry.
type ProviderHandler struct {
	registry ports.GatewayRegistry
}

// NewProviderHandler creates a new ProviderHandler.
func NewProviderHandler(registry ports.GatewayRegistry) *ProviderHandler {
	return &ProviderHandler{registry: registry}
}

// List handles GET /api/v1/providers.
func (h *ProviderHandler) List(c *gin.Context) {
	gateways := h.registry.List()
	items := make([]dto.ProviderResponse, 0, len(gateways))
	for _, gw := range gateways {
		items = append(items, dto.ProviderResponse{
			Key:         gw.Key(),
			DisplayName: gw.DisplayName(),
			Currencies:  gw.SupportedCurrencies(),
		})
	}
	response.OK(c, items)
}

// EstimateFee handles GET /api/v1/providers/:key/fees?amount=&currency=.
func (h *ProviderHandler) EstimateFee(c *gin.Context) {
	gw, ok := h.registry.Get(c.Param("key"))
	if !ok {
		response.Error(c, apperror.ErrNotFound("provider"))
		return
	}

	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil || !amount.IsPositive() {
		response.Error(c, apperror.Validation("amount must be a positive decimal string"))
		return
	}
	currency := strings.ToUpper(strings.TrimSpace(c.Query("currency")))
	if currency == "" {
		response.Error(c, apperror.Validation("currency is required"))
		return
	}

	fee, err := gw.EstimateFee(amount, currency)
	if err != nil {
		if errors.Is(err, ports.ErrUnsupportedCurrency) {
			response.Error(c, apperror.ErrUnsupportedCurrency(currency, gw.Key()))
			return
		}
		response.Error(c, err)
		return
	}

	response.OK(c, dto.FeeEstimateResponse{
		Provider: gw.Key(),
		Amount:   amount.String(),
		Currency: currency,
		Fee:      fee.String(),
		Total:    amount.Add(fee).String(),
	})
}
