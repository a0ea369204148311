package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"grok2api-go/internal/constants"
	"grok2api-go/internal/logging"

	log "github.com/sirupsen/logrus"
)

const (
	nsfwFeaturesPath        = "features"
	nsfwFeaturesEnabledPath = "features.enabled"
)

// legacyNSFWPayload is the pre-FieldMask request layout.
var legacyNSFWPayload = []byte{0x08, 0x01, 0x10, 0x01}

// NSFWResult describes one enable attempt chain. GRPCStatus is -1 when
// upstream reported none.
type NSFWResult struct {
	Success     bool   `json:"success"`
	HTTPStatus  int    `json:"http_status"`
	GRPCStatus  int    `json:"grpc_status"`
	GRPCMessage string `json:"grpc_message,omitempty"`
	Error       string `json:"error,omitempty"`
}

// buildNSFWPayload encodes UpdateUserFeatureControlsRequest with the feature
// toggle plus a FieldMask{paths:[path]} under maskField.
func buildNSFWPayload(maskField byte, path string) []byte {
	out := []byte{0x0A, 0x04, 0x08, 0x01, 0x10, 0x01}
	if len(path) > 0xFF-2 {
		return out
	}
	mask := make([]byte, 0, len(path)+2)
	mask = append(mask, 0x0A, byte(len(path)))
	mask = append(mask, path...)
	out = append(out, maskField<<3|0x02, byte(len(mask)))
	return append(out, mask...)
}

// EnableNSFW turns on the NSFW feature flag for token. Upstream has changed
// the request shape over time, so rejected payloads are retried with the
// alternate layouts before falling back to the birth-date endpoint.
func (c *Client) EnableNSFW(ctx context.Context, token string) NSFWResult {
	res, err := c.sendNSFW(ctx, token, buildNSFWPayload(2, nsfwFeaturesPath))
	if err != nil {
		return nsfwTransportFailure(err)
	}
	if res.Success {
		return res
	}

	type fallback struct {
		name    string
		when    func(NSFWResult) bool
		payload []byte
	}
	steps := []fallback{
		{"alternate mask field", wantsMaskField, buildNSFWPayload(3, nsfwFeaturesPath)},
		{"alternate mask path", wantsMaskPath, buildNSFWPayload(2, nsfwFeaturesEnabledPath)},
		{"legacy payload", wantsLegacyPayload, legacyNSFWPayload},
	}
	for _, step := range steps {
		if !step.when(res) {
			continue
		}
		log.WithFields(log.Fields{
			"token":        logging.MaskToken(token),
			"grpc_status":  res.GRPCStatus,
			"grpc_message": res.GRPCMessage,
		}).Warnf("upstream: nsfw enable rejected, retrying with %s", step.name)
		next, err := c.sendNSFW(ctx, token, step.payload)
		if err != nil {
			return nsfwTransportFailure(err)
		}
		if next.Success {
			return next
		}
		next.Error = fmt.Sprintf("previous payload failed: %s; %s failed: %s", orUnknown(res.Error), step.name, orUnknown(next.Error))
		res = next
	}

	if wantsAgeVerify(res) {
		log.WithField("token", logging.MaskToken(token)).Warn("upstream: nsfw grpc rejected, falling back to age verification")
		age := c.ageVerifyFallback(ctx, token)
		if age.Success {
			return age
		}
		age.Error = fmt.Sprintf("grpc update failed: %s; age-verify fallback failed: %s", orUnknown(res.Error), orUnknown(age.Error))
		res = age
	}
	return res
}

func (c *Client) sendNSFW(ctx context.Context, token string, proto []byte) (NSFWResult, error) {
	opts := c.Options()
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Content-Type", "application/grpc-web+proto")
	h.Set("Origin", opts.BaseURL)
	h.Set("Referer", opts.BaseURL+"/")
	h.Set("User-Agent", constants.UpstreamUserAgent)
	h.Set("x-grpc-web", "1")
	h.Set("x-user-agent", "connect-es/2.1.1")
	h.Set("Cookie", rwCookie(token, opts.CFClearance))

	resp, err := c.do(ctx, token, request{
		op:      "nsfw_enable",
		method:  http.MethodPost,
		url:     opts.BaseURL + "/auth_mgmt.AuthManagement/UpdateUserFeatureControls",
		body:    encodeGRPCWebFrame(proto),
		header:  h,
		timeout: opts.Timeout,
	})
	if err != nil {
		return NSFWResult{}, err
	}

	contentType := resp.header.Get("Content-Type")
	headerStatus := strings.TrimSpace(resp.header.Get("grpc-status"))
	headerMessage := resp.header.Get("grpc-message")

	if resp.status != http.StatusOK {
		code := -1
		if n, err := strconv.Atoi(headerStatus); err == nil {
			code = n
		}
		return NSFWResult{
			HTTPStatus:  resp.status,
			GRPCStatus:  code,
			GRPCMessage: headerMessage,
			Error:       fmt.Sprintf("HTTP %d; content-type: %s; body: %s", resp.status, orUnknown(contentType), bodyPreview(resp.body)),
		}, nil
	}

	_, trailers := parseGRPCWebResponse(resp.body, contentType)
	if _, ok := trailers["grpc-status"]; !ok && headerStatus != "" {
		trailers["grpc-status"] = headerStatus
	}
	if _, ok := trailers["grpc-message"]; !ok && headerMessage != "" {
		if dec, err := url.PathUnescape(headerMessage); err == nil {
			headerMessage = dec
		}
		trailers["grpc-message"] = headerMessage
	}
	st := statusFromTrailers(trailers)
	out := NSFWResult{
		Success:     st.Code == -1 || st.OK(),
		HTTPStatus:  resp.status,
		GRPCStatus:  st.Code,
		GRPCMessage: st.Message,
	}
	if !out.Success {
		out.Error = fmt.Sprintf("grpc error: code=%d, message=%s, body=%s", st.Code, st.Message, bodyPreview(resp.body))
	}
	return out, nil
}

// ageVerifyFallback posts the birth date with whatever cookie is available.
func (c *Client) ageVerifyFallback(ctx context.Context, token string) NSFWResult {
	status, body, contentType, err := c.postBirthDate(ctx, token)
	if err != nil {
		return nsfwTransportFailure(err)
	}
	if status == http.StatusOK {
		return NSFWResult{Success: true, HTTPStatus: status, GRPCStatus: 0, GRPCMessage: "fallback age verify success"}
	}
	return NSFWResult{
		HTTPStatus:  status,
		GRPCStatus:  3,
		GRPCMessage: "age verify fallback failed",
		Error:       fmt.Sprintf("HTTP %d; content-type: %s; body: %s", status, orUnknown(contentType), bodyPreview(body)),
	}
}

func nsfwTransportFailure(err error) NSFWResult {
	return NSFWResult{GRPCStatus: -1, Error: err.Error()}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func mentions(r NSFWResult, pred func(string) bool) bool {
	return pred(strings.ToLower(r.GRPCMessage)) || pred(strings.ToLower(r.Error))
}

func wantsMaskField(r NSFWResult) bool {
	return !r.Success && r.GRPCStatus == 3 && mentions(r, func(s string) bool {
		return strings.Contains(s, "field mask must be provided")
	})
}

func wantsMaskPath(r NSFWResult) bool {
	return !r.Success && r.GRPCStatus == 3 && mentions(r, func(s string) bool {
		return strings.Contains(s, "invalid field mask") ||
			strings.Contains(s, "fieldmask") ||
			strings.Contains(s, "cannot find field") ||
			strings.Contains(s, "unknown path")
	})
}

func wantsLegacyPayload(r NSFWResult) bool {
	return !r.Success && r.GRPCStatus == 13 && mentions(r, func(s string) bool {
		return strings.Contains(s, "failed to decode protobuf") ||
			strings.Contains(s, "invalid wire type") ||
			strings.Contains(s, "updateuserfeaturecontrolsrequest.features")
	})
}

func wantsAgeVerify(r NSFWResult) bool {
	return !r.Success && r.GRPCStatus == 3 && mentions(r, func(s string) bool {
		return strings.Contains(s, "invalid field") || strings.Contains(s, "field mask must be provided")
	})
}
