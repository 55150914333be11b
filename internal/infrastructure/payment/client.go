package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"school-payments/internal/domain"
	"school-payments/internal/infrastructure/signing"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

type Options struct {
	BaseURL      string
	APIKey       string
	FallbackURL  string
	Timeout      time.Duration
	RetryBackoff time.Duration
	HTTPClient   *http.Client
}

// StatusError is a non-2xx answer from the gateway.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.Code, e.Body)
}

type client struct {
	opts   Options
	http   *http.Client
	signer signing.Signer
	logger *zap.Logger
}

// NewClient returns the HTTP gateway client. Each call gets at most two
// attempts, each bounded by opts.Timeout, before falling back.
func NewClient(opts Options, signer signing.Signer, logger *zap.Logger) Gateway {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &client{opts: opts, http: hc, signer: signer, logger: logger}
}

type createRequestBody struct {
	SchoolID    string `json:"school_id"`
	Amount      string `json:"amount"`
	CallbackURL string `json:"callback_url"`
	Sign        string `json:"sign"`
}

type createResponseBody struct {
	CollectRequestID  string `json:"collect_request_id"`
	CollectRequestURL string `json:"collect_request_url"`
	Sign              string `json:"sign"`
}

type statusResponseBody struct {
	Status  string          `json:"status"`
	Amount  json.Number     `json:"amount"`
	Details json.RawMessage `json:"details"`
}

func (c *client) CreateCollectRequest(ctx context.Context, schoolID string, amount float64, callbackURL string) CollectRequest {
	amountStr := strconv.FormatFloat(amount, 'f', -1, 64)
	sign, err := c.signer.Sign(map[string]string{
		"school_id":    schoolID,
		"amount":       amountStr,
		"callback_url": callbackURL,
	})
	if err != nil {
		return c.collectFallback("", err)
	}

	body := createRequestBody{SchoolID: schoolID, Amount: amountStr, CallbackURL: callbackURL, Sign: sign}
	var out createResponseBody
	if err := c.do(ctx, http.MethodPost, c.opts.BaseURL+"/create-collect-request", body, &out); err != nil {
		return c.collectFallback(sign, err)
	}
	if out.CollectRequestID == "" || out.CollectRequestURL == "" {
		return c.collectFallback(sign, errors.New("gateway response missing collect_request_id or collect_request_url"))
	}
	if out.Sign == "" {
		out.Sign = sign
	}

	return CollectRequest{
		ID:     out.CollectRequestID,
		URL:    out.CollectRequestURL,
		Sign:   out.Sign,
		Source: SourceLive,
	}
}

func (c *client) CheckStatus(ctx context.Context, schoolID, collectRequestID string) StatusView {
	sign, err := c.signer.Sign(map[string]string{
		"school_id":          schoolID,
		"collect_request_id": collectRequestID,
	})
	if err != nil {
		return c.statusFallback(collectRequestID, err)
	}

	query := url.Values{}
	query.Set("school_id", schoolID)
	query.Set("sign", sign)
	endpoint := fmt.Sprintf("%s/collect-request/%s?%s", c.opts.BaseURL, url.PathEscape(collectRequestID), query.Encode())

	var out statusResponseBody
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out); err != nil {
		return c.statusFallback(collectRequestID, err)
	}
	if out.Status == "" {
		return c.statusFallback(collectRequestID, errors.New("gateway response missing status"))
	}

	view := StatusView{
		Status:  domain.PaymentStatus(out.Status),
		Details: out.Details,
		Source:  SourceLive,
	}
	if out.Amount != "" {
		amount, err := out.Amount.Float64()
		if err != nil {
			return c.statusFallback(collectRequestID, fmt.Errorf("gateway amount %q: %w", out.Amount, err))
		}
		view.Amount = amount
	}
	return view
}

func (c *client) collectFallback(sign string, cause error) CollectRequest {
	id := "fallback-" + uuid.NewString()
	c.logger.Warn("gateway create collect request failed, using fallback",
		zap.String("fallback_collect_request_id", id),
		zap.Error(cause),
	)
	return CollectRequest{
		ID:     id,
		URL:    c.opts.FallbackURL,
		Sign:   sign,
		Source: SourceDegraded,
		Cause:  cause.Error(),
	}
}

func (c *client) statusFallback(collectRequestID string, cause error) StatusView {
	c.logger.Warn("gateway status check failed, using fallback",
		zap.String("collect_request_id", collectRequestID),
		zap.Error(cause),
	)
	return PendingFallback(cause.Error())
}

// do performs the call with one retry on transport errors, 5xx and 429.
func (c *client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return errors.Join(lastErr, ctx.Err())
			case <-time.After(c.opts.RetryBackoff):
			}
		}

		retry, err := c.attempt(ctx, method, endpoint, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			break
		}
		c.logger.Info("retrying gateway call",
			zap.String("method", method),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
	return lastErr
}

func (c *client) attempt(ctx context.Context, method, endpoint string, payload []byte, out any) (retry bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.opts.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return true, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return retryable, &StatusError{Code: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return false, nil
}
