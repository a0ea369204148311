package upstream

import (
	"context"
	"fmt"
	"net/http"
)

const birthDatePayload = `{"birthDate":"2001-01-01T16:00:00.000Z"}`

// VerifyAge sets a fixed adult birth date on the account. cf_clearance is
// required; without it upstream rejects the write.
func (c *Client) VerifyAge(ctx context.Context, token string) error {
	if c.Options().CFClearance == "" {
		return ErrNoClearance
	}
	status, body, _, err := c.postBirthDate(ctx, token)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return &StatusError{Op: "age verify", Status: status, Body: bodyPreview(body)}
	}
	return nil
}

func (c *Client) postBirthDate(ctx context.Context, token string) (int, []byte, string, error) {
	opts := c.Options()
	h := c.browserHeaders(token, opts.BaseURL+"/")
	h.Set("Cookie", rwCookie(token, opts.CFClearance))
	resp, err := c.do(ctx, token, request{
		op:      "age_verify",
		method:  http.MethodPost,
		url:     opts.BaseURL + "/rest/auth/set-birth-date",
		body:    []byte(birthDatePayload),
		header:  h,
		timeout: opts.Timeout,
	})
	if err != nil {
		return 0, nil, "", fmt.Errorf("age verify: %w", err)
	}
	return resp.status, resp.body, resp.header.Get("Content-Type"), nil
}
