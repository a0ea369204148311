package upstream

import (
	"encoding/base64"
	"math/rand"
	"net/http"
	"strings"

	"grok2api-go/internal/constants"

	"github.com/google/uuid"
)

const sentryBaggage = "sentry-environment=production,sentry-release=d6add6fb0460641fd482d767a335ef72b9b6abb8,sentry-public_key=b311e0f2690c81f25e2c4cf6d4f7ce1c"

func rawToken(token string) string {
	return strings.TrimPrefix(strings.TrimSpace(token), "sso=")
}

// ssoCookie is "sso=<raw>" plus ";cf_clearance=<cf>" when configured.
func ssoCookie(token, cf string) string {
	raw := rawToken(token)
	if cf == "" {
		return "sso=" + raw
	}
	return "sso=" + raw + ";cf_clearance=" + cf
}

// rwCookie also carries sso-rw, which write endpoints require.
func rwCookie(token, cf string) string {
	raw := rawToken(token)
	cookie := "sso=" + raw + "; sso-rw=" + raw
	if cf != "" {
		cookie += "; cf_clearance=" + cf
	}
	return cookie
}

// browserHeaders mimics the grok.com web app.
func (c *Client) browserHeaders(token, referer string) http.Header {
	opts := c.Options()
	h := http.Header{}
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", constants.UpstreamAcceptLanguage)
	h.Set("Baggage", sentryBaggage)
	h.Set("Cache-Control", "no-cache")
	h.Set("Content-Type", "application/json")
	h.Set("Origin", opts.BaseURL)
	h.Set("Pragma", "no-cache")
	h.Set("Priority", "u=1, i")
	h.Set("Referer", referer)
	h.Set("Sec-Ch-Ua", constants.UpstreamSecChUa)
	h.Set("Sec-Ch-Ua-Arch", "arm")
	h.Set("Sec-Ch-Ua-Bitness", "64")
	h.Set("Sec-Ch-Ua-Mobile", "?0")
	h.Set("Sec-Ch-Ua-Model", "")
	h.Set("Sec-Ch-Ua-Platform", `"macOS"`)
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "same-origin")
	h.Set("User-Agent", constants.UpstreamUserAgent)
	h.Set("x-statsig-id", statsigID())
	h.Set("x-xai-request-id", uuid.NewString())
	h.Set("Cookie", ssoCookie(token, opts.CFClearance))
	return h
}

const lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"

func randString(n int, alphabet string) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// statsigID fabricates the base64 error string the web app sends as x-statsig-id.
func statsigID() string {
	var msg string
	if rand.Intn(2) == 0 {
		msg = `e:TypeError: Cannot read properties of null (reading 'children["` + randString(5, lowerAlnum) + `"]')`
	} else {
		msg = "e:TypeError: Cannot read properties of undefined (reading '" + randString(10, lowerAlnum[:26]) + "')"
	}
	return base64.StdEncoding.EncodeToString([]byte(msg))
}
