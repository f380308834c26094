// Package pac implementa los proveedores de certificación (timbrado) de CFDI.
//
// Cada proveedor recibe su configuración explícita por emisor (Config). No hay
// búsquedas globales: pac.Factory combina la sección PAC de la configuración con
// el CSD del emisor.
package pac

import (
	"strings"
	"time"
)

// Proveedores soportados (PAC_PROVIDER).
const (
	ProviderTest = "test"
	ProviderSW   = "sw"
)

const (
	swBaseProduction   = "https://services.sw.com.mx"
	swBaseSandbox      = "https://services.test.sw.com.mx"
	swLookupProduction = "https://api.sw.com.mx"
	swLookupSandbox    = "https://api.test.sw.com.mx"

	defaultTimeout       = 60 * time.Second
	defaultLookupTimeout = 20 * time.Second
	defaultPollAttempts  = 5
	defaultPollDelay     = 3 * time.Second

	// maxBody límite de lectura de cualquier respuesta del PAC.
	maxBody = 8 << 20
)

// Config configuración de un proveedor para un emisor concreto.
type Config struct {
	Sandbox   bool
	BaseURL   string
	LookupURL string

	Token    string
	User     string
	Password string

	// CSD del emisor.
	RFC         string
	Certificate []byte // .cer DER
	Key         []byte // .key DER (PKCS#8 cifrado)
	KeyPassword string

	Timeout       time.Duration
	LookupTimeout time.Duration
	PollAttempts  int
	PollDelay     time.Duration // 0 = 3s
	Debug         bool
	ExtraPaths    []string
}

// withDefaults completa URLs y tiempos no configurados.
func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = swBaseProduction
		if c.Sandbox {
			c.BaseURL = swBaseSandbox
		}
	}
	if c.LookupURL == "" {
		c.LookupURL = swLookupProduction
		if c.Sandbox {
			c.LookupURL = swLookupSandbox
		}
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	c.LookupURL = strings.TrimRight(c.LookupURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = defaultLookupTimeout
	}
	if c.PollAttempts <= 0 {
		c.PollAttempts = defaultPollAttempts
	}
	if c.PollDelay <= 0 {
		c.PollDelay = defaultPollDelay
	}
	c.RFC = strings.ToUpper(strings.TrimSpace(c.RFC))
	return c
}

// hasCSD indica si hay material suficiente para registrar el certificado.
func (c Config) hasCSD() bool {
	return len(c.Certificate) > 0 && len(c.Key) > 0 && c.KeyPassword != ""
}
