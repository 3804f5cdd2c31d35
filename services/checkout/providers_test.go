package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var body map[string]any
	require.NoError(t, decoder.Decode(&body))
	return body
}

func TestMercadoPagoCreatePixPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Idempotency-Key"))

		body := decodeBody(t, r)

		// O valor vai como número JSON com exatamente duas casas decimais,
		// nunca como float re-serializado
		assert.Equal(t, json.Number("20.00"), body["transaction_amount"])
		assert.Equal(t, "pix", body["payment_method_id"])
		assert.Equal(t, "https://site/api/webhook/mercadopago", body["notification_url"])

		payer := body["payer"].(map[string]any)
		assert.Equal(t, "ana@example.com", payer["email"])
		identification := payer["identification"].(map[string]any)
		assert.Equal(t, "CPF", identification["type"])
		assert.Equal(t, "12345678900", identification["number"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": 123456789,
			"status": "pending",
			"point_of_interaction": {
				"transaction_data": {
					"qr_code": "copia-e-cola",
					"qr_code_base64": "aW1n",
					"ticket_url": "https://mp/ticket"
				}
			}
		}`))
	}))
	defer server.Close()

	client := NewMercadoPagoClient("test-token", server.URL, "https://site/api/webhook/mercadopago", zap.NewNop())

	payment, err := client.CreatePixPayment(context.Background(), PixPaymentRequest{
		AmountCents:    2000,
		Description:    "Compra na GouRp - 1 itens",
		PayerEmail:     "ana@example.com",
		PayerFirstName: "Ana",
		PayerLastName:  "Silva",
		PayerCPF:       "12345678900",
	})

	require.NoError(t, err)
	assert.Equal(t, int64(123456789), payment.ID)
	assert.Equal(t, "pending", payment.Status)
	assert.Equal(t, "copia-e-cola", payment.PointOfInteraction.TransactionData.QRCode)
}

func TestMercadoPagoCreatePixPayment_ErrorMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"bad request","cause":[{"description":"Invalid users involved"}]}`))
	}))
	defer server.Close()

	client := NewMercadoPagoClient("test-token", server.URL, "https://site/webhook", zap.NewNop())

	_, err := client.CreatePixPayment(context.Background(), PixPaymentRequest{AmountCents: 2000})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "mercadopago", providerErr.Provider)
	assert.Equal(t, "[mercadopago] Invalid users involved", err.Error())
}

func TestMercadoPagoCreatePreference(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/checkout/preferences", r.URL.Path)

		body := decodeBody(t, r)
		assert.Equal(t, "tx-local-1", body["external_reference"])

		items := body["items"].([]any)
		require.Len(t, items, 1)
		item := items[0].(map[string]any)
		assert.Equal(t, "Game Key", item["title"])
		assert.Equal(t, "BRL", item["currency_id"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "pref-1",
			"init_point": "https://mp/init",
			"sandbox_init_point": "https://mp/sandbox"
		}`))
	}))
	defer server.Close()

	client := NewMercadoPagoClient("test-token", server.URL, "https://site/webhook", zap.NewNop())

	preference, err := client.CreatePreference(context.Background(), PreferenceRequest{
		Items: []PreferenceItem{
			{ID: "1", Title: "Game Key", Quantity: 2, UnitPrice: 10.00, CurrencyID: "BRL"},
		},
		PayerEmail:        "ana@example.com",
		ExternalReference: "tx-local-1",
	})

	require.NoError(t, err)
	assert.Equal(t, "https://mp/init", preference.InitPoint)
	assert.Equal(t, "https://mp/sandbox", preference.SandboxInitPoint)
}

func TestMercadoPagoGetPayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payments/555", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": 555, "status": "approved", "external_reference": "tx-local-1"}`))
	}))
	defer server.Close()

	client := NewMercadoPagoClient("test-token", server.URL, "https://site/webhook", zap.NewNop())

	payment, err := client.GetPayment(context.Background(), "555")

	require.NoError(t, err)
	assert.Equal(t, int64(555), payment.ID)
	assert.Equal(t, "approved", payment.Status)
	assert.Equal(t, "tx-local-1", payment.ExternalReference)
}

func TestMercadoPagoGetPayment_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"Payment not found"}`))
	}))
	defer server.Close()

	client := NewMercadoPagoClient("test-token", server.URL, "https://site/webhook", zap.NewNop())

	_, err := client.GetPayment(context.Background(), "999")

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "Payment not found", providerErr.Message)
}

// newTestEfiClient monta um EfiClient apontando para o servidor de teste, sem
// mTLS (o httptest local não exige certificado de cliente)
func newTestEfiClient(baseURL string) *EfiClient {
	return &EfiClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(5 * time.Second).
			SetHeader("Content-Type", "application/json"),
		clientID:     "test-client-id",
		clientSecret: "test-client-secret",
		pixKey:       "chave-pix@gourp.com.br",
		log:          zap.NewNop(),
	}
}

func efiTestServer(t *testing.T, tokenCalls *int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if tokenCalls != nil {
			*tokenCalls++
		}
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "test-client-id", user)
		assert.Equal(t, "test-client-secret", pass)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"efi-token","expires_in":3600}`))
	})

	mux.HandleFunc("/v2/cob/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "Bearer efi-token", r.Header.Get("Authorization"))

		body := decodeBody(t, r)
		calendario := body["calendario"].(map[string]any)
		assert.Equal(t, json.Number("3600"), calendario["expiracao"])

		valor := body["valor"].(map[string]any)
		assert.Equal(t, "20.00", valor["original"])

		devedor := body["devedor"].(map[string]any)
		assert.Equal(t, "12345678900", devedor["cpf"])
		assert.Equal(t, "Ana Silva", devedor["nome"])

		assert.Equal(t, "chave-pix@gourp.com.br", body["chave"])

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"txid":"Abc123Abc123Abc123Abc123Abc123","status":"ATIVA","loc":{"id":77}}`))
	})

	mux.HandleFunc("/v2/loc/77/qrcode", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer efi-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"qrcode":"copia-e-cola","imagemQrcode":"data:image/png;base64,aW1n"}`))
	})

	return httptest.NewServer(mux)
}

func TestEfiCreateImmediateCharge(t *testing.T) {
	server := efiTestServer(t, nil)
	defer server.Close()

	client := newTestEfiClient(server.URL)

	charge, err := client.CreateImmediateCharge(context.Background(), "Abc123Abc123Abc123Abc123Abc123", EfiChargeRequest{
		PayerName:   "Ana Silva",
		PayerCPF:    "12345678900",
		AmountCents: 2000,
		Description: "Compra na GouRp - 1 itens",
	})

	require.NoError(t, err)
	assert.Equal(t, "ATIVA", charge.Status)
	assert.Equal(t, int64(77), charge.Loc.ID)
}

func TestEfiGetQRCode_StripsDataURLPrefix(t *testing.T) {
	server := efiTestServer(t, nil)
	defer server.Close()

	client := newTestEfiClient(server.URL)

	qr, err := client.GetQRCode(context.Background(), 77)

	require.NoError(t, err)
	assert.Equal(t, "copia-e-cola", qr.QRCode)
	assert.Equal(t, "aW1n", qr.ImageBase64)
}

func TestEfiTokenIsCached(t *testing.T) {
	tokenCalls := 0
	server := efiTestServer(t, &tokenCalls)
	defer server.Close()

	client := newTestEfiClient(server.URL)

	req := EfiChargeRequest{PayerName: "Ana Silva", PayerCPF: "12345678900", AmountCents: 2000}
	_, err := client.CreateImmediateCharge(context.Background(), "Abc123Abc123Abc123Abc123Abc123", req)
	require.NoError(t, err)
	_, err = client.CreateImmediateCharge(context.Background(), "Xyz789Xyz789Xyz789Xyz789Xyz789", req)
	require.NoError(t, err)

	assert.Equal(t, 1, tokenCalls, "token deveria ser reutilizado dentro da validade")
}

func TestEfiAuthFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error_description":"credenciais inválidas"}`))
	}))
	defer server.Close()

	client := newTestEfiClient(server.URL)

	_, err := client.CreateImmediateCharge(context.Background(), "Abc123Abc123Abc123Abc123Abc123", EfiChargeRequest{AmountCents: 2000})

	var providerErr *ProviderError
	require.ErrorAs(t, err, &providerErr)
	assert.Equal(t, "efi", providerErr.Provider)
	assert.Equal(t, "credenciais inválidas", providerErr.Message)
}

func TestStripDataURLPrefix(t *testing.T) {
	assert.Equal(t, "aW1n", stripDataURLPrefix("data:image/png;base64,aW1n"))
	assert.Equal(t, "aW1n", stripDataURLPrefix("aW1n"))
	assert.Equal(t, "", stripDataURLPrefix(""))
}

func TestMpErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"cause preferida", `{"message":"bad","cause":[{"description":"CPF inválido"}]}`, "CPF inválido"},
		{"só message", `{"message":"bad request"}`, "bad request"},
		{"corpo vazio", `{}`, "erro ao processar pagamento"},
		{"não é json", `oops`, "erro ao processar pagamento"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mpErrorMessage([]byte(tt.body)))
		})
	}
}

func TestEfiErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"mensagem", `{"mensagem":"txid duplicado"}`, "txid duplicado"},
		{"detail", `{"detail":"cobrança não encontrada"}`, "cobrança não encontrada"},
		{"error_description", `{"error_description":"credenciais inválidas"}`, "credenciais inválidas"},
		{"corpo vazio", `{}`, "erro ao processar cobrança"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, efiErrorMessage([]byte(tt.body)))
		})
	}
}
