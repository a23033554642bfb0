package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr string `default:"0.0.0.0:8080" usage:"API server listen address"`

	// DatabaseURL is optional. When set, OTP codes and webhook claims are
	// stored in PostgreSQL, which is required when running more than one
	// instance; when empty, an in-process store is used.
	DatabaseURL string `usage:"PostgreSQL connection URL (optional, required for multi-instance)" flag:"database-url"`

	// ProxyURL routes all outbound calls (gateway, rate source, mail)
	// through an HTTP proxy, for restricted network environments.
	ProxyURL string `usage:"HTTP proxy URL for outbound calls" flag:"proxy-url"`

	Commerce  CommerceConfig
	Gateway   GatewayConfig
	Callback  CallbackConfig
	Rates     RatesConfig
	Mail      MailConfig
	OTP       OTPConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// CommerceConfig points at the commerce backend's admin API.
type CommerceConfig struct {
	URL   string `usage:"Commerce backend base URL" flag:"commerce-url"`
	Token string `usage:"Commerce backend admin token" flag:"commerce-token"`
}

// GatewayConfig controls the payment gateway integration.
type GatewayConfig struct {
	BaseURL string `default:"https://api.nowpayments.io/v1" usage:"Payment gateway API base URL"`
	APIKey  string `usage:"Payment gateway API key" flag:"gateway-api-key"`

	// IPNSecret is the shared secret for webhook signatures. Leaving it
	// empty disables verification entirely; do not do that in production.
	IPNSecret string `usage:"Shared secret for IPN signature verification" flag:"ipn-secret"`

	// SignatureEnforce, when false, accepts mismatched signatures (every
	// mismatch still logs a warning). Never disable outside local testing.
	SignatureEnforce bool `default:"true" usage:"Reject notifications with bad signatures" flag:"signature-enforce"`

	ReferenceCurrency string        `default:"USD" usage:"Currency invoices are priced in"`
	MinAmount         string        `default:"2" usage:"Minimum payable amount in the reference currency" flag:"min-amount"`
	Timeout           time.Duration `default:"15s" usage:"Gateway request timeout"`
}

// CallbackConfig holds the URLs embedded in outbound invoices.
type CallbackConfig struct {
	IPNURL     string `usage:"Public URL of the IPN webhook endpoint" flag:"ipn-url"`
	SuccessURL string `usage:"Browser redirect after successful payment" flag:"success-url"`
	CancelURL  string `usage:"Browser redirect after cancelled payment" flag:"cancel-url"`
}

// RatesConfig controls the FX rate lookup and its static fallback.
type RatesConfig struct {
	URL      string        `usage:"Market-data ticker URL (empty disables live lookup)" flag:"rates-url"`
	PriceKey string        `default:"price" usage:"JSON field holding the price" flag:"rates-price-key"`
	Fallback string        `usage:"Static fallback rate, local units per reference unit" flag:"rates-fallback"`
	Timeout  time.Duration `default:"5s" usage:"Rate lookup timeout"`
}

// MailConfig controls the transactional email provider.
type MailConfig struct {
	BaseURL string `default:"https://api.resend.com" usage:"Email provider API base URL"`
	APIKey  string `usage:"Email provider API key" flag:"mail-api-key"`
	Sender  string `usage:"Sender address for outbound mail" flag:"mail-sender"`
}

// OTPConfig controls the one-time-password handshake timing.
type OTPConfig struct {
	TTL      time.Duration `default:"60s" usage:"Code validity window"`
	Cooldown time.Duration `default:"60s" usage:"Minimum interval between code requests per email"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform defaults, then validates the required fields.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.Commerce.URL == "" {
		return nil, errors.New("commerce backend URL is required: set CHECKOUT_COMMERCE_URL")
	}
	if cfg.Gateway.APIKey == "" {
		return nil, errors.New("gateway API key is required: set CHECKOUT_GATEWAY_APIKEY")
	}
	if cfg.Callback.IPNURL == "" {
		return nil, errors.New("IPN callback URL is required: set CHECKOUT_CALLBACK_IPNURL")
	}
	if _, err := decimal.NewFromString(cfg.Gateway.MinAmount); err != nil {
		return nil, errors.Wrap(err, "parse minimum amount")
	}
	if cfg.Rates.Fallback != "" {
		if _, err := decimal.NewFromString(cfg.Rates.Fallback); err != nil {
			return nil, errors.Wrap(err, "parse fallback rate")
		}
	} else if cfg.Rates.URL == "" {
		return nil, errors.New("either a rates URL or a static fallback rate is required")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CHECKOUT_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
