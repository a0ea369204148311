package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// UsageResult is the parsed rate-limits answer.
type UsageResult struct {
	RemainingTokens int
	Raw             gjson.Result
}

// Usage queries the rate-limits endpoint for model, retrying on the
// configured status codes.
func (c *Client) Usage(ctx context.Context, token, model string) (UsageResult, error) {
	opts := c.Options()
	payload, _ := sjson.SetBytes([]byte(`{"requestKind":"DEFAULT"}`), "modelName", model)

	var out UsageResult
	err := c.withRetry(ctx, "rate_limits", func() error {
		resp, err := c.do(ctx, token, request{
			op:      "rate_limits",
			method:  http.MethodPost,
			url:     opts.BaseURL + "/rest/rate-limits",
			body:    payload,
			header:  c.browserHeaders(token, opts.BaseURL+"/"),
			timeout: opts.UsageTimeout,
		})
		if err != nil {
			return err
		}
		if resp.status != http.StatusOK {
			return &StatusError{Op: "usage", Status: resp.status, Body: bodyPreview(resp.body)}
		}
		text := normalizeJSONText(string(resp.body))
		if text == "" {
			return fmt.Errorf("usage parse error: %w", ErrEmptyBody)
		}
		if !gjson.Valid(text) {
			return fmt.Errorf("usage parse error: invalid json; body: %s", bodyPreview([]byte(text)))
		}
		parsed := gjson.Parse(text)
		remaining := parsed.Get("remainingTokens")
		if !remaining.Exists() {
			remaining = parsed.Get("remainingQueries")
		}
		if !remaining.Exists() {
			return fmt.Errorf("usage parse error: remainingTokens missing; body: %s", bodyPreview([]byte(text)))
		}
		out = UsageResult{RemainingTokens: int(remaining.Int()), Raw: parsed}
		return nil
	})
	return out, err
}

// RemainingTokens satisfies credential.QuotaQuerier.
func (c *Client) RemainingTokens(ctx context.Context, token, model string) (int, error) {
	res, err := c.Usage(ctx, token, model)
	if err != nil {
		return 0, err
	}
	return res.RemainingTokens, nil
}

// normalizeJSONText strips a BOM and the anti-hijacking prefixes some
// endpoints prepend.
func normalizeJSONText(raw string) string {
	text := strings.TrimPrefix(strings.TrimSpace(raw), "\ufeff")
	text = strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(text, ")]}'") {
		if _, rest, ok := strings.Cut(text, "\n"); ok {
			text = strings.TrimLeft(rest, " \t\r\n")
		}
	}
	text = strings.TrimLeft(strings.TrimPrefix(text, "for (;;);"), " \t\r\n")
	return strings.TrimSpace(text)
}
