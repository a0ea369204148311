package upstream

import (
	"encoding/base64"
	"encoding/binary"
	"net/url"
	"strconv"
	"strings"
)

// encodeGRPCWebFrame wraps a protobuf message in a grpc-web data frame:
// flag byte 0x00 then a big-endian uint32 length.
func encodeGRPCWebFrame(msg []byte) []byte {
	out := make([]byte, 5+len(msg))
	binary.BigEndian.PutUint32(out[1:5], uint32(len(msg)))
	copy(out[5:], msg)
	return out
}

// grpcStatus is the call status carried in headers or the trailer frame.
// Code -1 means upstream reported none.
type grpcStatus struct {
	Code    int
	Message string
}

func (s grpcStatus) OK() bool { return s.Code == 0 }

// parseGRPCWebResponse splits a grpc-web body into data messages and the
// trailer map. grpc-web-text bodies are base64 decoded first.
func parseGRPCWebResponse(body []byte, contentType string) ([][]byte, map[string]string) {
	data := maybeDecodeGRPCWebText(body, contentType)
	var messages [][]byte
	trailers := map[string]string{}
	for i := 0; i+5 <= len(data); {
		flag := data[i]
		n := int(binary.BigEndian.Uint32(data[i+1 : i+5]))
		i += 5
		if n < 0 || i+n > len(data) {
			break
		}
		payload := data[i : i+n]
		i += n
		if flag&0x80 == 0x80 {
			for k, v := range parseTrailerBlock(payload) {
				trailers[k] = v
			}
			continue
		}
		messages = append(messages, payload)
	}
	return messages, trailers
}

func maybeDecodeGRPCWebText(body []byte, contentType string) []byte {
	compact := func() string {
		return strings.Map(func(r rune) rune {
			switch r {
			case '\r', '\n', ' ', '\t':
				return -1
			}
			return r
		}, string(body))
	}
	if strings.Contains(strings.ToLower(contentType), "grpc-web-text") {
		if dec, err := base64.StdEncoding.DecodeString(compact()); err == nil {
			return dec
		}
		return body
	}
	head := body
	if len(head) > 2048 {
		head = head[:2048]
	}
	if len(head) == 0 {
		return body
	}
	for _, b := range head {
		isB64 := (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9') ||
			b == '+' || b == '/' || b == '=' || b == '\r' || b == '\n'
		if !isB64 {
			return body
		}
	}
	if dec, err := base64.StdEncoding.DecodeString(compact()); err == nil {
		return dec
	}
	return body
}

func parseTrailerBlock(payload []byte) map[string]string {
	out := map[string]string{}
	for _, line := range strings.FieldsFunc(string(payload), func(r rune) bool { return r == '\n' || r == '\r' }) {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		val := strings.TrimSpace(v)
		if key == "grpc-message" {
			if dec, err := url.PathUnescape(val); err == nil {
				val = dec
			}
		}
		out[key] = val
	}
	return out
}

func statusFromTrailers(trailers map[string]string) grpcStatus {
	code, err := strconv.Atoi(trailers["grpc-status"])
	if err != nil {
		code = -1
	}
	return grpcStatus{Code: code, Message: trailers["grpc-message"]}
}
