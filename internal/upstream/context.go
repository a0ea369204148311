package upstream

import (
	"context"
	"io"
	"net/http"

	"grok2api-go/internal/constants"
)

type ctxKey int

const (
	ctxRequestID ctxKey = iota
)

// WithRequestID 将入站请求 ID 附着到 context，上游日志据此关联。
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxRequestID, id)
}

// RequestID 从 context 中读取入站请求 ID。
func RequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(ctxRequestID).(string); ok {
		return v
	}
	return ""
}

// readAll 读取并关闭响应体，上限 limit 字节。
func readAll(resp *http.Response, limit int64) ([]byte, error) {
	if resp == nil || resp.Body == nil {
		return nil, nil
	}
	defer resp.Body.Close()
	return io.ReadAll(io.LimitReader(resp.Body, limit))
}

// bodyPreview 截断响应体用于错误信息。
func bodyPreview(b []byte) string {
	r := []rune(string(b))
	if len(r) > constants.UpstreamBodyPreview {
		r = r[:constants.UpstreamBodyPreview]
	}
	return string(r)
}
