package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	efiProductionURL = "https://pix.api.efipay.com.br"
	efiSandboxURL    = "https://pix-h.api.efipay.com.br"

	// Expiração da cobrança imediata, em segundos (1 hora)
	efiChargeExpiration = 3600
)

// EfiAPI define as operações usadas contra a API PIX da Efí
type EfiAPI interface {
	// CreateImmediateCharge cria uma cobrança imediata para o txid informado
	CreateImmediateCharge(ctx context.Context, txid string, req EfiChargeRequest) (*EfiCharge, error)

	// GetQRCode busca o QR Code e o copia-e-cola de uma location
	GetQRCode(ctx context.Context, locationID int64) (*EfiQRCode, error)
}

// EfiChargeRequest carrega os dados da cobrança imediata
type EfiChargeRequest struct {
	PayerName   string
	PayerCPF    string
	AmountCents int64
	Description string
}

// EfiCharge é a resposta da criação de cobrança (POST/PUT /v2/cob)
type EfiCharge struct {
	Txid   string `json:"txid"`
	Status string `json:"status"`
	Loc    struct {
		ID int64 `json:"id"`
	} `json:"loc"`
}

// EfiQRCode é a resposta de GET /v2/loc/{id}/qrcode
type EfiQRCode struct {
	QRCode      string `json:"qrcode"`
	ImageBase64 string `json:"imagemQrcode"`
}

// EfiClient implementa EfiAPI sobre a API PIX com mTLS e OAuth client_credentials
type EfiClient struct {
	http         *resty.Client
	clientID     string
	clientSecret string
	pixKey       string
	log          *zap.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewEfiClient cria o cliente PIX com o certificado mTLS já validado pela Config
func NewEfiClient(cfg *Config, logger *zap.Logger) *EfiClient {
	baseURL := efiProductionURL
	if cfg.EfiSandbox {
		baseURL = efiSandboxURL
	}

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(5 * time.Second).
		SetCertificates(cfg.EfiCertificate).
		SetHeader("Content-Type", "application/json")

	return &EfiClient{
		http:         client,
		clientID:     cfg.EfiClientID,
		clientSecret: cfg.EfiClientSecret,
		pixKey:       cfg.EfiPixKey,
		log:          logger,
	}
}

// authToken devolve um access token válido, renovando via OAuth quando expirado
func (c *EfiClient) authToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetBasicAuth(c.clientID, c.clientSecret).
		SetBody(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&token).
		Post("/oauth/token")
	if err != nil {
		return "", &ProviderError{Provider: "efi", Message: "falha ao autenticar", Err: err}
	}
	if resp.IsError() {
		return "", &ProviderError{Provider: "efi", Message: efiErrorMessage(resp.Body())}
	}

	c.accessToken = token.AccessToken
	// Renova um minuto antes de expirar para não usar token na borda
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn-60) * time.Second)
	return c.accessToken, nil
}

// CreateImmediateCharge cria a cobrança imediata com expiração de 1 hora e
// valor formatado com exatamente duas casas decimais.
func (c *EfiClient) CreateImmediateCharge(ctx context.Context, txid string, req EfiChargeRequest) (*EfiCharge, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"calendario": map[string]int{"expiracao": efiChargeExpiration},
		"devedor": map[string]string{
			"cpf":  req.PayerCPF,
			"nome": req.PayerName,
		},
		"valor": map[string]string{
			"original": CentsToAmount(req.AmountCents),
		},
		"chave":              c.pixKey,
		"solicitacaoPagador": req.Description,
	}

	var charge EfiCharge
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(body).
		SetResult(&charge).
		Put(fmt.Sprintf("/v2/cob/%s", txid))
	if err != nil {
		return nil, &ProviderError{Provider: "efi", Message: "falha ao criar cobrança PIX", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "efi", Message: efiErrorMessage(resp.Body())}
	}

	c.log.Info("cobrança PIX criada na Efí",
		zap.String("txid", charge.Txid),
		zap.String("status", charge.Status),
		zap.Int64("loc_id", charge.Loc.ID),
	)
	return &charge, nil
}

// GetQRCode busca o QR Code da location da cobrança
func (c *EfiClient) GetQRCode(ctx context.Context, locationID int64) (*EfiQRCode, error) {
	token, err := c.authToken(ctx)
	if err != nil {
		return nil, err
	}

	var qr EfiQRCode
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetResult(&qr).
		Get(fmt.Sprintf("/v2/loc/%d/qrcode", locationID))
	if err != nil {
		return nil, &ProviderError{Provider: "efi", Message: "falha ao buscar QR Code", Err: err}
	}
	if resp.IsError() {
		return nil, &ProviderError{Provider: "efi", Message: efiErrorMessage(resp.Body())}
	}

	// A Efí devolve a imagem como data-url; o cliente espera só o base64
	qr.ImageBase64 = stripDataURLPrefix(qr.ImageBase64)
	return &qr, nil
}

// stripDataURLPrefix remove o prefixo "data:image/...;base64," quando presente
func stripDataURLPrefix(s string) string {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ","); idx >= 0 {
			return s[idx+1:]
		}
	}
	return s
}

// efiErrorMessage extrai a mensagem legível do corpo de erro da Efí
func efiErrorMessage(body []byte) string {
	var parsed struct {
		Mensagem         string `json:"mensagem"`
		ErrorDescription string `json:"error_description"`
		Detail           string `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		switch {
		case parsed.Mensagem != "":
			return parsed.Mensagem
		case parsed.Detail != "":
			return parsed.Detail
		case parsed.ErrorDescription != "":
			return parsed.ErrorDescription
		}
	}
	return "erro ao processar cobrança"
}
