package main

import (
	"crypto/tls"
	"encoding/base64"
	"encoding/pem"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// Config concentra toda a configuração validada do serviço. Os clientes dos
// provedores são construídos uma única vez na inicialização a partir dela e
// injetados nos handlers; nada é resolvido de forma preguiçosa em runtime.
type Config struct {
	Port        string
	ServiceName string
	SiteURL     string

	DatabaseUser     string
	DatabasePassword string
	DatabaseHost     string
	DatabasePort     string
	DatabaseName     string

	MPAccessToken string
	MPBaseURL     string

	EfiClientID     string
	EfiClientSecret string
	EfiPixKey       string
	EfiSandbox      bool
	EfiCertificate  tls.Certificate

	OTLPEndpoint string
}

// LoadConfig lê e valida a configuração do ambiente. Credenciais ausentes
// derrubam o processo antes de qualquer chamada de rede.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		ServiceName:      getEnv("SERVICE_NAME", "checkout-service"),
		SiteURL:          os.Getenv("SITE_URL"),
		DatabaseUser:     getEnv("DATABASE_USER", "root"),
		DatabasePassword: getEnv("DATABASE_PASSWORD", "pass"),
		DatabaseHost:     getEnv("DATABASE_HOST", "localhost"),
		DatabasePort:     getEnv("DATABASE_PORT", "5432"),
		DatabaseName:     getEnv("DATABASE_NAME", "store_db"),
		MPAccessToken:    os.Getenv("MP_ACCESS_TOKEN"),
		MPBaseURL:        getEnv("MP_BASE_URL", "https://api.mercadopago.com"),
		EfiClientID:      os.Getenv("EFI_CLIENT_ID"),
		EfiClientSecret:  os.Getenv("EFI_CLIENT_SECRET"),
		EfiPixKey:        os.Getenv("EFI_PIX_KEY"),
		EfiSandbox:       getEnv("EFI_SANDBOX", "true") != "false",
		OTLPEndpoint:     getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	if cfg.SiteURL == "" {
		return nil, NewConfigurationError("variável SITE_URL não encontrada (necessária para a notification_url dos webhooks)")
	}
	if cfg.MPAccessToken == "" {
		return nil, NewConfigurationError("variável MP_ACCESS_TOKEN não encontrada")
	}
	if cfg.EfiClientID == "" || cfg.EfiClientSecret == "" {
		return nil, NewConfigurationError("variáveis EFI_CLIENT_ID ou EFI_CLIENT_SECRET não encontradas")
	}
	if cfg.EfiPixKey == "" {
		return nil, NewConfigurationError("variável EFI_PIX_KEY não encontrada")
	}

	cert, err := loadEfiCertificate()
	if err != nil {
		return nil, err
	}
	cfg.EfiCertificate = cert

	return cfg, nil
}

// loadEfiCertificate carrega o material de certificado do mTLS da Efí. Aceita
// o PEM direto (EFI_CERT_PEM) ou o PKCS#12 em base64 como exportado pelo
// painel da Efí (EFI_CERT_BASE64), convertido para PEM em memória.
func loadEfiCertificate() (tls.Certificate, error) {
	if pemData := os.Getenv("EFI_CERT_PEM"); pemData != "" {
		cert, err := tls.X509KeyPair([]byte(pemData), []byte(pemData))
		if err != nil {
			return tls.Certificate{}, NewConfigurationError("EFI_CERT_PEM inválido: %v", err)
		}
		return cert, nil
	}

	certBase64 := os.Getenv("EFI_CERT_BASE64")
	if certBase64 == "" {
		return tls.Certificate{}, NewConfigurationError("variável EFI_CERT_BASE64 não encontrada")
	}

	// Limpeza básica: remove espaços e prefixos data-url comuns
	cleaned := strings.TrimSpace(certBase64)
	if idx := strings.Index(cleaned, ","); idx >= 0 {
		cleaned = cleaned[idx+1:]
	}
	cleaned = strings.Join(strings.Fields(cleaned), "")

	p12, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return tls.Certificate{}, NewConfigurationError("EFI_CERT_BASE64 não é base64 válido: %v", err)
	}

	blocks, err := pkcs12.ToPEM(p12, os.Getenv("EFI_CERT_PASSWORD"))
	if err != nil {
		return tls.Certificate{}, NewConfigurationError("falha ao converter o P12 da Efí para PEM: %v", err)
	}

	var pemData []byte
	for _, block := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(block)...)
	}

	cert, err := tls.X509KeyPair(pemData, pemData)
	if err != nil {
		return tls.Certificate{}, NewConfigurationError("certificado Efí convertido é inválido: %v", err)
	}
	return cert, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
