package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"grok2api-go/internal/constants"
	"grok2api-go/internal/logging"
	"grok2api-go/internal/monitoring"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Imagine error codes surfaced to callers.
const (
	ImagineCodeUnauthorized     = "unauthorized"
	ImagineCodeConnectionFailed = "connection_failed"
	ImagineCodeSendFailed       = "send_failed"
	ImagineCodeRateLimited      = "rate_limit_exceeded"
	ImagineCodeBlocked          = "blocked"
	ImagineCodeGenerationFailed = "generation_failed"
)

const (
	imagineFinalMinBlob  = 100_000
	imagineMediumMinBlob = 30_000
)

// ImagineError is a failed generation attempt.
type ImagineError struct {
	Code    string
	Message string
}

func (e *ImagineError) Error() string { return e.Code + ": " + e.Message }

// ImagineCode returns the code of an *ImagineError, or "".
func ImagineCode(err error) string {
	var ie *ImagineError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

// ImagineRequest is one websocket generation.
type ImagineRequest struct {
	Prompt      string
	AspectRatio string
	N           int
	EnableNSFW  bool
}

// ImagineImage is the best variant received for one image id. Blob is base64.
type ImagineImage struct {
	ID    string
	URL   string
	Blob  string
	Stage string
	Final bool
}

// ImagineProgress is reported each time an image variant is accepted.
type ImagineProgress struct {
	ImageID   string
	Stage     string
	Final     bool
	Completed int
	Total     int
}

// imagineTimings 控制 websocket 读循环的各个超时
type imagineTimings struct {
	readTimeout   time.Duration
	mediumBlocked time.Duration
	idleBlocked   time.Duration
	idleDone      time.Duration
}

var defaultImagineTimings = imagineTimings{
	readTimeout:   5 * time.Second,
	mediumBlocked: 15 * time.Second,
	idleBlocked:   10 * time.Second,
	idleDone:      10 * time.Second,
}

var imageIDPattern = regexp.MustCompile(`/images/([0-9a-fA-F-]+)\.(png|jpg)$`)

func extractImageID(raw string) string {
	m := imageIDPattern.FindStringSubmatch(urlPath(raw))
	if m == nil {
		return ""
	}
	return m[1]
}

func urlPath(raw string) string {
	if i := strings.Index(raw, "://"); i >= 0 {
		raw = raw[i+3:]
		if j := strings.IndexByte(raw, '/'); j >= 0 {
			raw = raw[j:]
		} else {
			raw = "/"
		}
	}
	if k := strings.IndexAny(raw, "?#"); k >= 0 {
		raw = raw[:k]
	}
	return raw
}

func isFinalImage(raw string, blobSize int) bool {
	return strings.HasSuffix(urlPath(raw), ".jpg") && blobSize > imagineFinalMinBlob
}

// imagineProgress 按 image id 聚合已收到的图片
type imagineProgress struct {
	total     int
	images    map[string]ImagineImage
	completed int
}

func (p *imagineProgress) accept(img ImagineImage) bool {
	if prev, ok := p.images[img.ID]; ok && prev.Final {
		return false
	}
	p.images[img.ID] = img
	p.completed = 0
	for _, v := range p.images {
		if v.Final {
			p.completed++
		}
	}
	return true
}

func (p *imagineProgress) blocked() bool {
	var medium, final bool
	for _, v := range p.images {
		medium = medium || v.Stage == "medium"
		final = final || v.Final
	}
	return medium && !final
}

// best returns up to n images, finals first then larger blobs.
func (p *imagineProgress) best(n int) []ImagineImage {
	imgs := make([]ImagineImage, 0, len(p.images))
	for _, v := range p.images {
		imgs = append(imgs, v)
	}
	sort.SliceStable(imgs, func(i, j int) bool {
		if imgs[i].Final != imgs[j].Final {
			return imgs[i].Final
		}
		return len(imgs[i].Blob) > len(imgs[j].Blob)
	})
	if len(imgs) > n {
		imgs = imgs[:n]
	}
	return imgs
}

func imaginePayload(req ImagineRequest) []byte {
	payload := []byte(`{"type":"conversation.item.create","item":{"type":"message","content":[{"type":"input_text","properties":{"section_count":0,"is_kids_mode":false,"skip_upsampler":false,"is_initial":false}}]}}`)
	payload, _ = sjson.SetBytes(payload, "timestamp", time.Now().UnixMilli())
	payload, _ = sjson.SetBytes(payload, "item.content.0.requestId", uuid.NewString())
	payload, _ = sjson.SetBytes(payload, "item.content.0.text", req.Prompt)
	payload, _ = sjson.SetBytes(payload, "item.content.0.properties.enable_nsfw", req.EnableNSFW)
	payload, _ = sjson.SetBytes(payload, "item.content.0.properties.aspect_ratio", req.AspectRatio)
	return payload
}

type wsFrame struct {
	kind int
	data []byte
	err  error
}

// Imagine runs one generation over the imagine websocket and returns the
// collected images, best first. onProgress may be nil.
func (c *Client) Imagine(ctx context.Context, token string, req ImagineRequest, onProgress func(ImagineProgress)) ([]ImagineImage, error) {
	opts := c.Options()
	timings := c.imagineTimings()
	if req.N < 1 {
		req.N = 1
	}
	entry := log.WithFields(log.Fields{"token": logging.MaskToken(token), "n": req.N})

	h := http.Header{}
	raw := rawToken(token)
	h.Set("Cookie", "sso="+raw+"; sso-rw="+raw)
	h.Set("Origin", opts.BaseURL)
	h.Set("User-Agent", constants.UpstreamUserAgent)
	h.Set("Accept-Language", constants.UpstreamAcceptLanguage)
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")

	dialer := websocket.Dialer{
		Proxy:            proxyFunc(opts.ProxyURL),
		HandshakeTimeout: constants.DefaultTLSHandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, opts.ImagineWSURL, h)
	if err != nil {
		monitoring.UpstreamRequestsTotal.WithLabelValues("imagine_ws", monitoring.StatusClass(statusOfResp(resp))).Inc()
		if (resp != nil && resp.StatusCode == http.StatusUnauthorized) || strings.Contains(err.Error(), "401") {
			return nil, &ImagineError{Code: ImagineCodeUnauthorized, Message: err.Error()}
		}
		return nil, &ImagineError{Code: ImagineCodeConnectionFailed, Message: err.Error()}
	}
	monitoring.UpstreamRequestsTotal.WithLabelValues("imagine_ws", monitoring.StatusClass(http.StatusSwitchingProtocols)).Inc()
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, imaginePayload(req)); err != nil {
		return nil, &ImagineError{Code: ImagineCodeSendFailed, Message: err.Error()}
	}

	frames := make(chan wsFrame, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			kind, data, err := conn.ReadMessage()
			select {
			case frames <- wsFrame{kind: kind, data: data, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	progress := &imagineProgress{total: req.N, images: map[string]ImagineImage{}}
	var (
		remembered   *ImagineError
		start        = time.Now()
		lastActivity = time.Now()
		mediumAt     time.Time
	)
	blockedErr := func() error {
		return &ImagineError{Code: ImagineCodeBlocked, Message: "generation blocked, no final image received"}
	}

	timer := time.NewTimer(timings.readTimeout)
	defer timer.Stop()

loop:
	for time.Since(start) < opts.Timeout {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(timings.readTimeout)

		select {
		case <-ctx.Done():
			break loop
		case <-timer.C:
			if !mediumAt.IsZero() && progress.completed == 0 && time.Since(mediumAt) > timings.idleBlocked {
				return nil, blockedErr()
			}
			if progress.completed > 0 && time.Since(lastActivity) > timings.idleDone {
				break loop
			}
		case f := <-frames:
			if f.err != nil {
				var ce *websocket.CloseError
				if errors.As(f.err, &ce) || errors.Is(f.err, io.EOF) || errors.Is(f.err, io.ErrUnexpectedEOF) {
					break loop
				}
				return nil, &ImagineError{Code: ImagineCodeConnectionFailed, Message: f.err.Error()}
			}
			if f.kind != websocket.TextMessage {
				continue
			}
			lastActivity = time.Now()
			if !gjson.ValidBytes(f.data) {
				continue
			}
			msg := gjson.ParseBytes(f.data)
			switch msg.Get("type").String() {
			case "image":
				blob, imgURL := msg.Get("blob").String(), msg.Get("url").String()
				if blob == "" || imgURL == "" {
					break
				}
				id := extractImageID(imgURL)
				if id == "" {
					break
				}
				img := ImagineImage{ID: id, URL: imgURL, Blob: blob, Final: isFinalImage(imgURL, len(blob))}
				switch {
				case img.Final:
					img.Stage = "final"
				case len(blob) > imagineMediumMinBlob:
					img.Stage = "medium"
					if mediumAt.IsZero() {
						mediumAt = time.Now()
					}
				default:
					img.Stage = "preview"
				}
				if progress.accept(img) && onProgress != nil {
					onProgress(ImagineProgress{ImageID: id, Stage: img.Stage, Final: img.Final, Completed: progress.completed, Total: progress.total})
				}
			case "error":
				code := msg.Get("err_code").String()
				message := msg.Get("err_msg").String()
				if message == "" {
					message = "generation failed"
				}
				remembered = &ImagineError{Code: code, Message: message}
				if code == ImagineCodeRateLimited {
					entry.Warn("upstream: imagine rate limited")
					return nil, remembered
				}
			}
			if progress.completed >= req.N {
				break loop
			}
			if !mediumAt.IsZero() && progress.completed == 0 && time.Since(mediumAt) > timings.mediumBlocked {
				return nil, blockedErr()
			}
		}
	}

	if imgs := progress.best(req.N); len(imgs) > 0 {
		entry.WithField("images", len(imgs)).Debug("upstream: imagine finished")
		return imgs, nil
	}
	switch {
	case remembered != nil:
		return nil, remembered
	case progress.blocked():
		return nil, blockedErr()
	default:
		return nil, &ImagineError{Code: ImagineCodeGenerationFailed, Message: "no image data received"}
	}
}

func statusOfResp(resp *http.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode
}

func (c *Client) imagineTimings() imagineTimings {
	if c.timings != nil {
		return *c.timings
	}
	return defaultImagineTimings
}
