package main

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// selfSignedPEM gera um par certificado/chave autoassinado para os testes de
// carga do certificado mTLS
func selfSignedPEM(t *testing.T) string {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return string(certPEM) + string(keyPEM)
}

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SITE_URL", "https://gourp.com.br")
	t.Setenv("MP_ACCESS_TOKEN", "test-token")
	t.Setenv("EFI_CLIENT_ID", "test-client-id")
	t.Setenv("EFI_CLIENT_SECRET", "test-client-secret")
	t.Setenv("EFI_PIX_KEY", "chave-pix@gourp.com.br")
	t.Setenv("EFI_CERT_PEM", selfSignedPEM(t))
	t.Setenv("EFI_CERT_BASE64", "")
}

func TestLoadConfig_Success(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PORT", "")
	t.Setenv("EFI_SANDBOX", "")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "https://gourp.com.br", cfg.SiteURL)
	assert.Equal(t, "https://api.mercadopago.com", cfg.MPBaseURL)
	assert.True(t, cfg.EfiSandbox)
	assert.NotEmpty(t, cfg.EfiCertificate.Certificate)
}

func TestLoadConfig_SandboxDisabled(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EFI_SANDBOX", "false")

	cfg, err := LoadConfig()

	require.NoError(t, err)
	assert.False(t, cfg.EfiSandbox)
}

func TestLoadConfig_MissingSiteURL(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SITE_URL", "")

	_, err := LoadConfig()

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Message, "SITE_URL")
}

func TestLoadConfig_MissingMPToken(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("MP_ACCESS_TOKEN", "")

	_, err := LoadConfig()

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Message, "MP_ACCESS_TOKEN")
}

func TestLoadConfig_MissingEfiCredentials(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EFI_CLIENT_SECRET", "")

	_, err := LoadConfig()

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestLoadConfig_MissingPixKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EFI_PIX_KEY", "")

	_, err := LoadConfig()

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Message, "EFI_PIX_KEY")
}

func TestLoadConfig_MissingCertificate(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EFI_CERT_PEM", "")

	_, err := LoadConfig()

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Contains(t, configErr.Message, "EFI_CERT_BASE64")
}

func TestLoadConfig_InvalidPEM(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EFI_CERT_PEM", "não é um pem")

	_, err := LoadConfig()

	var configErr *ConfigurationError
	require.ErrorAs(t, err, &configErr)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_CONFIG_KEY", "valor")
	assert.Equal(t, "valor", getEnv("TEST_CONFIG_KEY", "padrão"))

	t.Setenv("TEST_CONFIG_KEY", "")
	assert.Equal(t, "padrão", getEnv("TEST_CONFIG_KEY", "padrão"))
}
