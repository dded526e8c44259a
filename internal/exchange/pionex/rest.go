package pionex

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"

	"github.com/coachpo/tradeflow/errs"
)

const (
	headerAPIKey    = "PIONEX-KEY"
	headerSignature = "PIONEX-SIGNATURE"

	maxResponseBytes = 1 << 20
	maxAttempts      = 3
)

// envelope is the common wrapper on every Pionex response.
type envelope struct {
	Result  bool   `json:"result"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, false, out)
}

func (c *Client) getSigned(ctx context.Context, path string, params map[string]string, out any) error {
	return c.do(ctx, http.MethodGet, path, params, nil, true, out)
}

func (c *Client) postSigned(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode %s body: %w", path, err)
	}
	return c.do(ctx, http.MethodPost, path, nil, encoded, true, out)
}

// do executes one REST call with rate limiting and bounded retry. Network
// failures and 429/5xx responses retry with exponential backoff; venue
// rejections are terminal.
func (c *Client) do(ctx context.Context, method, path string, params map[string]string, body []byte, signed bool, out any) error {
	if signed && c.apiKey == "" {
		return errs.New(VenueName, errs.CodeAuth, errs.WithMessage("api credentials not configured"))
	}

	query := url.Values{}
	for key, value := range params {
		query.Set(key, value)
	}
	if signed {
		query.Set("timestamp", strconv.FormatInt(c.clock().UTC().UnixMilli(), 10))
	}
	pathWithQuery := path
	if encoded := query.Encode(); encoded != "" {
		pathWithQuery += "?" + encoded
	}

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = 200 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				break
			}
			timer := time.NewTimer(sleep)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		retryable, err := c.doOnce(ctx, method, pathWithQuery, body, signed, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return lastErr
}

func (c *Client) doOnce(ctx context.Context, method, pathWithQuery string, body []byte, signed bool, out any) (retryable bool, err error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathWithQuery, reader)
	if err != nil {
		return false, fmt.Errorf("create %s request: %w", pathWithQuery, err)
	}
	if len(body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		req.Header.Set(headerAPIKey, c.apiKey)
		req.Header.Set(headerSignature, c.sign(method, pathWithQuery, body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		return true, errs.New(VenueName, errs.CodeNetwork,
			errs.WithMessage(method+" "+pathWithQuery), errs.WithCause(err))
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, errs.New(VenueName, errs.CodeNetwork,
			errs.WithMessage("read response for "+pathWithQuery), errs.WithCause(err))
	}

	if resp.StatusCode != http.StatusOK {
		return statusRetryable(resp.StatusCode), statusError(resp.StatusCode, pathWithQuery, raw)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return false, errs.New(VenueName, errs.CodeExchange,
			errs.WithMessage("decode response for "+pathWithQuery), errs.WithCause(err))
	}
	if !env.Result {
		return false, errs.New(VenueName, errs.CodeExchange,
			errs.WithMessage("request rejected for "+pathWithQuery),
			errs.WithRawCode(env.Code), errs.WithRawMessage(env.Message))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return false, errs.New(VenueName, errs.CodeExchange,
				errs.WithMessage("decode payload for "+pathWithQuery), errs.WithCause(err))
		}
	}
	return false, nil
}

// sign produces the hex HMAC-SHA256 over METHOD + path?query + body.
func (c *Client) sign(method, pathWithQuery string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = mac.Write([]byte(strings.ToUpper(method)))
	_, _ = mac.Write([]byte(pathWithQuery))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func statusRetryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func statusError(status int, pathWithQuery string, raw []byte) error {
	code := errs.CodeExchange
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = errs.CodeAuth
	case status == http.StatusNotFound:
		code = errs.CodeNotFound
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		code = errs.CodeUnavailable
	}
	return errs.New(VenueName, code,
		errs.WithHTTP(status),
		errs.WithMessage("unexpected status for "+pathWithQuery),
		errs.WithRawMessage(strings.TrimSpace(string(raw))))
}
