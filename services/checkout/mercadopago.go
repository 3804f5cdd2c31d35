package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MercadoPagoAPI define as operações usadas contra a API do Mercado Pago
type MercadoPagoAPI interface {
	// CreatePixPayment cria um pagamento transparente PIX
	CreatePixPayment(ctx context.Context, req PixPaymentRequest) (*MercadoPagoPayment, error)

	// CreatePreference cria uma preferência de Checkout Pro (URL de redirect)
	CreatePreference(ctx context.Context, req PreferenceRequest) (*MercadoPagoPreference, error)

	// GetPayment busca o status autoritativo de um pagamento
	GetPayment(ctx context.Context, paymentID string) (*MercadoPagoPayment, error)
}

// PixPaymentRequest carrega os dados para criar um pagamento PIX transparente
type PixPaymentRequest struct {
	AmountCents       int64
	Description       string
	PayerEmail        string
	PayerFirstName    string
	PayerLastName     string
	PayerCPF          string
	ExternalReference string
}

// PreferenceItem é um item da preferência de Checkout Pro
type PreferenceItem struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
	PictureURL string  `json:"picture_url,omitempty"`
}

// PreferenceRequest carrega os dados para criar uma preferência
type PreferenceRequest struct {
	Items             []PreferenceItem
	PayerEmail        string
	ExternalReference string
}

// MercadoPagoPayment é a resposta da API de pagamentos do Mercado Pago
type MercadoPagoPayment struct {
	ID                 int64  `json:"id"`
	Status             string `json:"status"`
	StatusDetail       string `json:"status_detail"`
	ExternalReference  string `json:"external_reference"`
	PaymentMethodID    string `json:"payment_method_id"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// MercadoPagoPreference é a resposta da API de preferências
type MercadoPagoPreference struct {
	ID               string `json:"id"`
	InitPoint        string `json:"init_point"`
	SandboxInitPoint string `json:"sandbox_init_point"`
}

// MercadoPagoClient implementa MercadoPagoAPI sobre a API REST v1
type MercadoPagoClient struct {
	http            *resty.Client
	notificationURL string
	log             *zap.Logger
}

// NewMercadoPagoClient cria um cliente autenticado com timeout limitado
func NewMercadoPagoClient(accessToken, baseURL, notificationURL string, logger *zap.Logger) *MercadoPagoClient {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json")

	return &MercadoPagoClient{
		http:            client,
		notificationURL: notificationURL,
		log:             logger,
	}
}

// CreatePixPayment cria um pagamento transparente PIX
func (c *MercadoPagoClient) CreatePixPayment(ctx context.Context, req PixPaymentRequest) (*MercadoPagoPayment, error) {
	body := map[string]any{
		"transaction_amount": json.RawMessage(CentsToAmount(req.AmountCents)),
		"description":        req.Description,
		"payment_method_id":  "pix",
		"payer": map[string]any{
			"email":      req.PayerEmail,
			"first_name": req.PayerFirstName,
			"last_name":  req.PayerLastName,
			"identification": map[string]string{
				"type":   "CPF",
				"number": req.PayerCPF,
			},
		},
		"external_reference": req.ExternalReference,
		"notification_url":   c.notificationURL,
	}

	var payment MercadoPagoPayment
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("X-Idempotency-Key", uuid.New().String()).
		SetBody(body).
		SetResult(&payment).
		Post("/v1/payments")
	if err != nil {
		return nil, &ProviderError{Provider: "mercadopago", Message: "falha ao criar pagamento PIX", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "mercadopago", Message: mpErrorMessage(resp.Body())}
	}

	c.log.Info("pagamento PIX criado no Mercado Pago",
		zap.Int64("payment_id", payment.ID),
		zap.String("status", payment.Status),
	)
	return &payment, nil
}

// CreatePreference cria uma preferência de Checkout Pro
func (c *MercadoPagoClient) CreatePreference(ctx context.Context, req PreferenceRequest) (*MercadoPagoPreference, error) {
	body := map[string]any{
		"items": req.Items,
		"payer": map[string]string{
			"email": req.PayerEmail,
		},
		"external_reference": req.ExternalReference,
		"notification_url":   c.notificationURL,
	}

	var preference MercadoPagoPreference
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&preference).
		Post("/checkout/preferences")
	if err != nil {
		return nil, &ProviderError{Provider: "mercadopago", Message: "falha ao criar preferência", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "mercadopago", Message: mpErrorMessage(resp.Body())}
	}

	c.log.Info("preferência criada no Mercado Pago", zap.String("preference_id", preference.ID))
	return &preference, nil
}

// GetPayment busca o status autoritativo de um pagamento pelo id numérico
func (c *MercadoPagoClient) GetPayment(ctx context.Context, paymentID string) (*MercadoPagoPayment, error) {
	var payment MercadoPagoPayment
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&payment).
		Get(fmt.Sprintf("/v1/payments/%s", paymentID))
	if err != nil {
		return nil, &ProviderError{Provider: "mercadopago", Message: "falha ao consultar pagamento", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "mercadopago", Message: mpErrorMessage(resp.Body())}
	}
	return &payment, nil
}

// mpErrorMessage extrai a mensagem legível do corpo de erro do Mercado Pago,
// preferindo cause[0].description quando presente.
func mpErrorMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Cause   []struct {
			Description string `json:"description"`
		} `json:"cause"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if len(parsed.Cause) > 0 && parsed.Cause[0].Description != "" {
			return parsed.Cause[0].Description
		}
		if parsed.Message != "" {
			return parsed.Message
		}
	}
	return "erro ao processar pagamento"
}
