// Package config manages application configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/coachpo/tradeflow/errs"
)

// Default tuning values applied when the file leaves them unset.
const (
	DefaultAddr             = ":8080"
	DefaultSignalPath       = "/signal"
	DefaultReleaseQuotePath = "/release-quote"
	DefaultBalancesPath     = "/balances"
	DefaultSettleDelay      = 3 * time.Second
	DefaultJournalInterval  = time.Hour
	DefaultWebhookInterval  = 15 * time.Minute
	DefaultLogLevel         = "info"
)

// DefaultMinOrderQuoteQty is the dust floor in reference quote units below
// which balances and order costs are treated as zero.
var DefaultMinOrderQuoteQty = decimal.NewFromInt(5)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Engine    EngineConfig    `yaml:"engine"`
	Risk      RiskConfig      `yaml:"risk"`
	Journal   JournalConfig   `yaml:"journal"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Accounts  []AccountConfig `yaml:"accounts"`
}

// ServerConfig sets the HTTP listen address and endpoint paths.
type ServerConfig struct {
	Addr      string          `yaml:"addr"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
}

// EndpointsConfig names the HTTP paths exposed by the server.
type EndpointsConfig struct {
	Signal       string `yaml:"signal"`
	ReleaseQuote string `yaml:"releaseQuote"`
	Balances     string `yaml:"balances"`
}

// LogConfig controls logging verbosity.
type LogConfig struct {
	Level string `yaml:"level"`
}

// TelemetryConfig configures the OpenTelemetry metric exporter.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// EngineConfig tunes allocation and settlement behaviour.
type EngineConfig struct {
	MinOrderQuoteQty decimal.Decimal `yaml:"minOrderQuoteQty"`
	SettleDelay      time.Duration   `yaml:"settleDelay"`
}

// RiskConfig bounds order dispatch.
type RiskConfig struct {
	// OrderThrottle is the maximum rate of orders per second, zero disables it.
	OrderThrottle float64 `yaml:"orderThrottle"`
	// MaxOrderNotional caps a single order's quote value, zero disables it.
	MaxOrderNotional decimal.Decimal `yaml:"maxOrderNotional"`
}

// JournalConfig configures the Postgres trade journal. An empty DSN disables it.
type JournalConfig struct {
	DSN          string        `yaml:"dsn"`
	SyncInterval time.Duration `yaml:"syncInterval"`
}

// ForwarderConfig configures signal fan-out to registered webhooks.
type ForwarderConfig struct {
	Enabled         bool          `yaml:"enabled"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

// AccountConfig describes one exchange account and its markets.
type AccountConfig struct {
	Name          string         `yaml:"name"`
	Active        bool           `yaml:"active"`
	RiskProfile   string         `yaml:"riskProfile"`
	IgnoreSignals []string       `yaml:"ignoreSignals"`
	UseJournal    bool           `yaml:"useJournal"`
	Exchange      ExchangeConfig `yaml:"exchange"`
	Markets       []MarketGroup  `yaml:"markets"`
	Gas           *GasConfig     `yaml:"gas"`
}

// ExchangeConfig identifies the venue and credentials for an account.
// Credential values support ${ENV_VAR} expansion.
type ExchangeConfig struct {
	Name   string `yaml:"name"`
	APIKey string `yaml:"apiKey"`
	Secret string `yaml:"secret"`
}

// MarketGroup lists the assets traded against a single quote currency.
type MarketGroup struct {
	Quote  string        `yaml:"quote"`
	Assets []AssetConfig `yaml:"assets"`
}

// AssetConfig sets the target weight and per-order cost ceiling for an asset.
type AssetConfig struct {
	Name string          `yaml:"name"`
	Pct  decimal.Decimal `yaml:"pct"`
	Max  decimal.Decimal `yaml:"max"`
}

// GasConfig keeps a fee asset funded as a percentage of the quote balance.
type GasConfig struct {
	Base     string          `yaml:"base"`
	Quote    string          `yaml:"quote"`
	Rate     decimal.Decimal `yaml:"rate"`
	Reserved decimal.Decimal `yaml:"reserved"`
}

// Load reads, expands, validates, and defaults the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes configuration from YAML bytes.
func Parse(raw []byte) (*Config, error) {
	cfg := new(Config)
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errs.New("", errs.CodeConfig, errs.WithMessage("decode config"), errs.WithCause(err))
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = DefaultAddr
	}
	if strings.TrimSpace(c.Server.Endpoints.Signal) == "" {
		c.Server.Endpoints.Signal = DefaultSignalPath
	}
	if strings.TrimSpace(c.Server.Endpoints.ReleaseQuote) == "" {
		c.Server.Endpoints.ReleaseQuote = DefaultReleaseQuotePath
	}
	if strings.TrimSpace(c.Server.Endpoints.Balances) == "" {
		c.Server.Endpoints.Balances = DefaultBalancesPath
	}
	if strings.TrimSpace(c.Log.Level) == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Engine.MinOrderQuoteQty.IsZero() {
		c.Engine.MinOrderQuoteQty = DefaultMinOrderQuoteQty
	}
	if c.Engine.SettleDelay <= 0 {
		c.Engine.SettleDelay = DefaultSettleDelay
	}
	if c.Journal.SyncInterval <= 0 {
		c.Journal.SyncInterval = DefaultJournalInterval
	}
	if c.Forwarder.RefreshInterval <= 0 {
		c.Forwarder.RefreshInterval = DefaultWebhookInterval
	}
	for i := range c.Accounts {
		account := &c.Accounts[i]
		account.Exchange.APIKey = os.ExpandEnv(account.Exchange.APIKey)
		account.Exchange.Secret = os.ExpandEnv(account.Exchange.Secret)
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Accounts))
	for i := range c.Accounts {
		account := &c.Accounts[i]
		name := strings.TrimSpace(account.Name)
		if name == "" {
			return configErr("account name is required")
		}
		if _, dup := seen[name]; dup {
			return configErr(fmt.Sprintf("duplicate account name %q", name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(account.Exchange.Name) == "" {
			return configErr(fmt.Sprintf("account %q: exchange name is required", name))
		}
		if account.Active && len(account.Markets) == 0 {
			return configErr(fmt.Sprintf("account %q: active account needs at least one market", name))
		}
		for _, group := range account.Markets {
			if strings.TrimSpace(group.Quote) == "" {
				return configErr(fmt.Sprintf("account %q: market quote is required", name))
			}
			for _, asset := range group.Assets {
				if strings.TrimSpace(asset.Name) == "" {
					return configErr(fmt.Sprintf("account %q: asset name is required", name))
				}
				one := decimal.NewFromInt(1)
				if !asset.Pct.IsPositive() || asset.Pct.GreaterThan(one) {
					return configErr(fmt.Sprintf("account %q: %s weight must be in (0,1]", name, asset.Name))
				}
				if !asset.Max.IsPositive() {
					return configErr(fmt.Sprintf("account %q: %s max cost must be positive", name, asset.Name))
				}
			}
		}
		if gas := account.Gas; gas != nil {
			if strings.TrimSpace(gas.Base) == "" || strings.TrimSpace(gas.Quote) == "" {
				return configErr(fmt.Sprintf("account %q: gas base and quote are required", name))
			}
			hundred := decimal.NewFromInt(100)
			if gas.Rate.IsNegative() || gas.Rate.GreaterThan(hundred) {
				return configErr(fmt.Sprintf("account %q: gas rate must be in [0,100]", name))
			}
			if gas.Reserved.IsNegative() {
				return configErr(fmt.Sprintf("account %q: gas reserved floor must be >= 0", name))
			}
		}
	}
	return nil
}

func configErr(msg string) error {
	return errs.New("", errs.CodeConfig, errs.WithMessage(msg))
}
