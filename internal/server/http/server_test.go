package httpserver_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"

	"github.com/coachpo/tradeflow/internal/config"
	"github.com/coachpo/tradeflow/internal/engine"
	"github.com/coachpo/tradeflow/internal/exchange/fake"
	"github.com/coachpo/tradeflow/internal/schema"
	httpserver "github.com/coachpo/tradeflow/internal/server/http"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", s, err)
	}
	return d
}

func noSleep(context.Context, time.Duration) {}

func testEndpoints() config.EndpointsConfig {
	return config.EndpointsConfig{
		Signal:       config.DefaultSignalPath,
		ReleaseQuote: config.DefaultReleaseQuotePath,
		Balances:     config.DefaultBalancesPath,
	}
}

// newTestServer wires a single-market account over a scripted venue: 1 ETH in
// position at price 1000, 50 USDT free.
func newTestServer(t *testing.T) (*fake.Exchange, *engine.Orchestrator, *httptest.Server) {
	t.Helper()
	venue := fake.New("testex")
	venue.SetPrice("ETH/USDT", dec(t, "1000"))
	venue.SetBalance("ETH", dec(t, "1"))
	venue.SetBalance("USDT", dec(t, "50"))
	market := schema.NewMarket("ETH", "USDT", dec(t, "0.5"), dec(t, "100000"))
	account := engine.NewAccount(engine.AccountParams{
		Name:     "main",
		Active:   true,
		Markets:  []*schema.Market{market},
		Exchange: venue,
		Sleep:    noSleep,
	})
	orchestrator := engine.NewOrchestrator([]*engine.Account{account}, engine.Options{})
	orchestrator.Bootstrap(context.Background())

	server := httptest.NewServer(httpserver.NewHandler(orchestrator, testEndpoints()))
	t.Cleanup(server.Close)
	return venue, orchestrator, server
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSignalEndpointAcksThenProcesses(t *testing.T) {
	venue, orchestrator, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/signal", `{"asset":"eth","side":"SELL"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var ack map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if ack["status"] != "accepted" || ack["asset"] != "ETH" || ack["side"] != "sell" {
		t.Fatalf("ack = %+v", ack)
	}

	orchestrator.Wait()
	subs := venue.Submissions()
	if len(subs) != 1 || subs[0].Side != schema.SideSell || subs[0].Symbol != "ETH/USDT" {
		t.Fatalf("submissions = %+v, want one sell of ETH/USDT", subs)
	}
}

func TestSignalEndpointRejectsUnknownSide(t *testing.T) {
	venue, orchestrator, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/signal", `{"asset":"ETH","side":"hold"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	orchestrator.Wait()
	if subs := venue.Submissions(); len(subs) != 0 {
		t.Fatalf("submissions = %+v, want none for rejected signal", subs)
	}
}

func TestSignalEndpointRejectsMalformedJSON(t *testing.T) {
	_, _, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/signal", `{"asset":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSignalEndpointMethodNotAllowed(t *testing.T) {
	_, _, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/signal")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
	if allow := resp.Header.Get("Allow"); allow != http.MethodPost {
		t.Fatalf("allow header = %q, want POST", allow)
	}
}

func TestReleaseQuoteEndpointReturnsPlanAndBalance(t *testing.T) {
	venue, _, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/release-quote", `{"account":"main","quote":"usdt","total":100}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got struct {
		Plan    schema.ReleasePlan    `json:"plan"`
		Balance schema.AccountBalance `json:"balance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	leg := got.Plan["ETH/USDT"]
	if !leg.Qty.Equal(dec(t, "0.051")) || !leg.Value.Equal(dec(t, "51")) {
		t.Fatalf("leg = qty %s value %s, want qty 0.051 value 51", leg.Qty, leg.Value)
	}
	if usdt := got.Balance.Quantity("USDT"); !usdt.Equal(dec(t, "101")) {
		t.Fatalf("post-release USDT = %s, want 101", usdt)
	}
	if subs := venue.Submissions(); len(subs) != 1 || subs[0].Side != schema.SideSell {
		t.Fatalf("submissions = %+v, want one release sell", subs)
	}
}

func TestReleaseQuoteEndpointUnknownAccount(t *testing.T) {
	_, _, server := newTestServer(t)

	resp := postJSON(t, server.URL+"/release-quote", `{"account":"ghost","quote":"USDT","total":100}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestReleaseQuoteEndpointValidatesRequest(t *testing.T) {
	_, _, server := newTestServer(t)

	cases := map[string]string{
		"missing account":    `{"quote":"USDT","total":100}`,
		"missing quote":      `{"account":"main","total":100}`,
		"non-positive total": `{"account":"main","quote":"USDT","total":0}`,
	}
	for name, body := range cases {
		resp := postJSON(t, server.URL+"/release-quote", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestBalancesEndpointListsAccounts(t *testing.T) {
	_, _, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/balances")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got struct {
		Accounts []engine.AccountBalanceView `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Accounts) != 1 || got.Accounts[0].Account != "main" {
		t.Fatalf("accounts = %+v, want the single active account", got.Accounts)
	}
	if usdt := got.Accounts[0].Balance.Quantity("USDT"); !usdt.Equal(dec(t, "50")) {
		t.Fatalf("USDT = %s, want 50", usdt)
	}
}

func TestHealthEndpoint(t *testing.T) {
	_, _, server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
