package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

const sampleConfig = `
server:
  addr: ":9090"
accounts:
  - name: main
    active: true
    riskProfile: moderate
    ignoreSignals: [weak-trend]
    useJournal: true
    exchange:
      name: pionex
      apiKey: ${TRADEFLOW_TEST_KEY}
      secret: ${TRADEFLOW_TEST_SECRET}
    markets:
      - quote: USDT
        assets:
          - name: ETH
            pct: 0.4
            max: 1000
          - name: BTC
            pct: 0.4
            max: 1000
          - name: SOL
            pct: 0.2
            max: 500
    gas:
      base: BNB
      quote: USDT
      rate: 1
      reserved: 0.01
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("expected explicit addr kept, got %q", cfg.Server.Addr)
	}
	if cfg.Server.Endpoints.Signal != DefaultSignalPath {
		t.Fatalf("expected default signal path, got %q", cfg.Server.Endpoints.Signal)
	}
	if !cfg.Engine.MinOrderQuoteQty.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected default min order quote qty 5, got %s", cfg.Engine.MinOrderQuoteQty)
	}
	if cfg.Engine.SettleDelay != 3*time.Second {
		t.Fatalf("expected default settle delay, got %v", cfg.Engine.SettleDelay)
	}
	if cfg.Journal.SyncInterval != time.Hour {
		t.Fatalf("expected default journal interval, got %v", cfg.Journal.SyncInterval)
	}
}

func TestParseExpandsCredentialEnvVars(t *testing.T) {
	t.Setenv("TRADEFLOW_TEST_KEY", "key-123")
	t.Setenv("TRADEFLOW_TEST_SECRET", "secret-456")
	cfg, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	account := cfg.Accounts[0]
	if account.Exchange.APIKey != "key-123" {
		t.Fatalf("expected api key expanded, got %q", account.Exchange.APIKey)
	}
	if account.Exchange.Secret != "secret-456" {
		t.Fatalf("expected secret expanded, got %q", account.Exchange.Secret)
	}
}

func TestParseRejectsWeightOutOfRange(t *testing.T) {
	bad := strings.Replace(sampleConfig, "pct: 0.4", "pct: 1.4", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected weight validation error")
	}
}

func TestParseRejectsDuplicateAccountNames(t *testing.T) {
	const dup = `
accounts:
  - name: main
    exchange:
      name: pionex
  - name: main
    exchange:
      name: pionex
`
	if _, err := Parse([]byte(dup)); err == nil {
		t.Fatal("expected duplicate account validation error")
	}
}

func TestParseRejectsActiveAccountWithoutMarkets(t *testing.T) {
	const cfg = `
accounts:
  - name: empty
    active: true
    exchange:
      name: pionex
`
	if _, err := Parse([]byte(cfg)); err == nil {
		t.Fatal("expected missing markets validation error")
	}
}

func TestParseRejectsGasRateOutOfRange(t *testing.T) {
	bad := strings.Replace(sampleConfig, "rate: 1", "rate: 120", 1)
	if _, err := Parse([]byte(bad)); err == nil {
		t.Fatal("expected gas rate validation error")
	}
}
