package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CheckoutUseCaseInterface define a interface para o use case de checkout
type CheckoutUseCaseInterface interface {
	CreateMercadoPagoPixCharge(ctx context.Context, req CheckoutRequest) (*PixChargeResponse, error)
	CreateCheckoutPreference(ctx context.Context, req CheckoutRequest) (*PreferenceResponse, error)
	CreateEfiPixCharge(ctx context.Context, req CheckoutRequest) (*PixChargeResponse, error)
}

// ReconcileUseCaseInterface define a interface para o reconciliador de webhooks
type ReconcileUseCaseInterface interface {
	HandleEfiConfirmations(ctx context.Context, confirmations []PixConfirmation)
	HandleMercadoPagoNotification(ctx context.Context, notification PaymentNotification) error
}

// StatusUseCaseInterface define a interface para a consulta de status
type StatusUseCaseInterface interface {
	GetOrderStatus(ctx context.Context, paymentID string) string
}

// CheckoutHandler contém os handlers HTTP de criação de cobrança
type CheckoutHandler struct {
	useCase CheckoutUseCaseInterface
	tracer  trace.Tracer
	log     *zap.Logger
}

// NewCheckoutHandler cria uma nova instância de CheckoutHandler
func NewCheckoutHandler(useCase CheckoutUseCaseInterface, tracer trace.Tracer, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		useCase: useCase,
		tracer:  tracer,
		log:     logger,
	}
}

// MercadoPagoPix cria um pagamento PIX transparente
func (h *CheckoutHandler) MercadoPagoPix(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout_mercadopago_pix")
	defer span.End()

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_email", req.UserEmail),
		attribute.Int("item_count", len(req.Items)),
	)

	charge, err := h.useCase.CreateMercadoPagoPixCharge(ctx, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}

	span.SetAttributes(attribute.String("payment_id", charge.ID))
	c.JSON(http.StatusOK, charge)
}

// Preference cria uma preferência de Checkout Pro
func (h *CheckoutHandler) Preference(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout_preference")
	defer span.End()

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_email", req.UserEmail),
		attribute.Int("item_count", len(req.Items)),
	)

	preference, err := h.useCase.CreateCheckoutPreference(ctx, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}

	span.SetAttributes(attribute.String("payment_id", preference.ID))
	c.JSON(http.StatusOK, preference)
}

// EfiPix cria uma cobrança imediata PIX na Efí
func (h *CheckoutHandler) EfiPix(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "checkout_efi_pix")
	defer span.End()

	var req CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span.SetAttributes(
		attribute.String("user_email", req.UserEmail),
		attribute.Int("item_count", len(req.Items)),
	)

	charge, err := h.useCase.CreateEfiPixCharge(ctx, req)
	if err != nil {
		span.RecordError(err)
		respondError(c, err)
		return
	}

	span.SetAttributes(attribute.String("payment_id", charge.ID))
	c.JSON(http.StatusOK, charge)
}

// WebhookHandler contém os handlers HTTP dos webhooks de pagamento
type WebhookHandler struct {
	reconciler ReconcileUseCaseInterface
	tracer     trace.Tracer
	log        *zap.Logger
}

// NewWebhookHandler cria uma nova instância de WebhookHandler
func NewWebhookHandler(reconciler ReconcileUseCaseInterface, tracer trace.Tracer, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		reconciler: reconciler,
		tracer:     tracer,
		log:        logger,
	}
}

// Efi processa o webhook da Efí. Responde sempre 200: o payload é
// autodescritivo e falhas internas não devem gerar tempestade de retries.
func (h *WebhookHandler) Efi(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "webhook_efi")
	defer span.End()

	body, err := c.GetRawData()
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	confirmations, err := ParseEfiWebhook(body)
	if err != nil {
		span.RecordError(err)
		h.log.Warn("payload inesperado no webhook da Efí", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	span.SetAttributes(attribute.Int("confirmation_count", len(confirmations)))
	h.reconciler.HandleEfiConfirmations(ctx, confirmations)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MercadoPago processa a notificação do Mercado Pago. Responde 200 mesmo com
// falha interna, exceto quando a consulta autoritativa ao provedor falhou —
// esse caso devolve 500 para o provedor reentregar.
func (h *WebhookHandler) MercadoPago(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "webhook_mercadopago")
	defer span.End()

	body, _ := c.GetRawData()

	notification, ok := ParseMercadoPagoNotification(c.Request.URL.Query(), body)
	if !ok {
		h.log.Info("notificação ignorada (não é de pagamento)")
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	span.SetAttributes(attribute.String("payment_id", notification.PaymentID))

	if err := h.reconciler.HandleMercadoPagoNotification(ctx, notification); err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "falha ao consultar o provedor"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// Verify responde o handshake GET que alguns provedores fazem ao registrar o
// webhook
func (h *WebhookHandler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// StatusHandler contém o handler de consulta de status do pedido
type StatusHandler struct {
	useCase StatusUseCaseInterface
	tracer  trace.Tracer
}

// NewStatusHandler cria uma nova instância de StatusHandler
func NewStatusHandler(useCase StatusUseCaseInterface, tracer trace.Tracer) *StatusHandler {
	return &StatusHandler{
		useCase: useCase,
		tracer:  tracer,
	}
}

// OrderStatus retorna o status do pedido para o polling do cliente
func (h *StatusHandler) OrderStatus(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "order_status")
	defer span.End()

	paymentID := c.Query("paymentId")
	if paymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Faltando ID do pagamento"})
		return
	}

	span.SetAttributes(attribute.String("payment_id", paymentID))
	c.JSON(http.StatusOK, gin.H{"status": h.useCase.GetOrderStatus(ctx, paymentID)})
}

// HealthCheck verifica a saúde do serviço
func (h *StatusHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "checkout-service",
	})
}

// respondError mapeia a taxonomia de erros para o status HTTP: entrada
// inválida responde 400; provedor, configuração e persistência respondem 500.
func respondError(c *gin.Context, err error) {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Message})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
