package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

var testUpgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// imagineServer upgrades, checks the create message and then runs script.
func imagineServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sso=tok; sso-rw=tok", r.Header.Get("Cookie"))
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg := gjson.ParseBytes(data)
		assert.Equal(t, "conversation.item.create", msg.Get("type").String())
		assert.Equal(t, "a cat", msg.Get("item.content.0.text").String())
		assert.Equal(t, "2:3", msg.Get("item.content.0.properties.aspect_ratio").String())
		assert.True(t, msg.Get("item.content.0.properties.enable_nsfw").Bool())
		assert.NotEmpty(t, msg.Get("item.content.0.requestId").String())
		script(conn)
	}))
}

func imageMsg(id, ext string, size int) string {
	return `{"type":"image","url":"https://assets.grok.com/users/u/images/` + id + `.` + ext + `","blob":"` + strings.Repeat("A", size) + `"}`
}

func send(conn *websocket.Conn, msgs ...string) {
	for _, m := range msgs {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(m))
	}
}

func fastTimings(c *Client) {
	c.timings = &imagineTimings{
		readTimeout:   20 * time.Millisecond,
		mediumBlocked: 150 * time.Millisecond,
		idleBlocked:   60 * time.Millisecond,
		idleDone:      60 * time.Millisecond,
	}
}

var catRequest = ImagineRequest{Prompt: "a cat", AspectRatio: "2:3", N: 2, EnableNSFW: true}

func TestImagineCollectsFinalImages(t *testing.T) {
	srv := imagineServer(t, func(conn *websocket.Conn) {
		send(conn,
			imageMsg("aa11", "png", 100),
			imageMsg("aa11", "jpg", 100_004),
			imageMsg("aa11", "png", 50), // ignored after final
			imageMsg("bb22", "jpg", 120_000),
		)
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	var events []ImagineProgress
	imgs, err := c.Imagine(context.Background(), "tok", catRequest, func(p ImagineProgress) { events = append(events, p) })
	require.NoError(t, err)
	require.Len(t, imgs, 2)
	assert.True(t, imgs[0].Final)
	assert.Equal(t, "bb22", imgs[0].ID)
	assert.Equal(t, "aa11", imgs[1].ID)
	require.Len(t, events, 3)
	assert.Equal(t, "preview", events[0].Stage)
	assert.Equal(t, 2, events[2].Completed)
}

func TestImagineRateLimited(t *testing.T) {
	srv := imagineServer(t, func(conn *websocket.Conn) {
		send(conn, `{"type":"error","err_code":"rate_limit_exceeded","err_msg":"slow down"}`)
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	_, err := newTestClient(t, srv).Imagine(context.Background(), "tok", catRequest, nil)
	require.Error(t, err)
	assert.Equal(t, ImagineCodeRateLimited, ImagineCode(err))
}

func TestImagineUnauthorizedHandshake(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Imagine(context.Background(), "tok", catRequest, nil)
	assert.Equal(t, ImagineCodeUnauthorized, ImagineCode(err))
}

func TestImagineConnectionFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Imagine(context.Background(), "tok", catRequest, nil)
	assert.Equal(t, ImagineCodeConnectionFailed, ImagineCode(err))
}

func TestImagineBlockedAfterMediumWithoutFinal(t *testing.T) {
	srv := imagineServer(t, func(conn *websocket.Conn) {
		send(conn, imageMsg("cc33", "png", 40_000))
		_, _, _ = conn.ReadMessage()
	})
	defer srv.Close()

	c := newTestClient(t, srv)
	fastTimings(c)
	_, err := c.Imagine(context.Background(), "tok", catRequest, nil)
	assert.Equal(t, ImagineCodeBlocked, ImagineCode(err))
}

func TestImagineReturnsPartialOnClose(t *testing.T) {
	srv := imagineServer(t, func(conn *websocket.Conn) {
		send(conn, imageMsg("dd44", "png", 500))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	defer srv.Close()

	imgs, err := newTestClient(t, srv).Imagine(context.Background(), "tok", catRequest, nil)
	require.NoError(t, err)
	require.Len(t, imgs, 1)
	assert.Equal(t, "preview", imgs[0].Stage)
}

func TestImagineRemembersErrorWithoutImages(t *testing.T) {
	srv := imagineServer(t, func(conn *websocket.Conn) {
		send(conn, `{"type":"error","err_code":"content_moderated","err_msg":"nope"}`)
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	defer srv.Close()

	_, err := newTestClient(t, srv).Imagine(context.Background(), "tok", catRequest, nil)
	assert.Equal(t, "content_moderated", ImagineCode(err))
}

func TestImagineGenerationFailedWithoutData(t *testing.T) {
	srv := imagineServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	defer srv.Close()

	_, err := newTestClient(t, srv).Imagine(context.Background(), "tok", catRequest, nil)
	assert.Equal(t, ImagineCodeGenerationFailed, ImagineCode(err))
}

func TestExtractImageID(t *testing.T) {
	assert.Equal(t, "ab-12", extractImageID("https://assets.grok.com/u/images/ab-12.jpg"))
	assert.Equal(t, "ab12", extractImageID("/images/ab12.png?x=1"))
	assert.Equal(t, "", extractImageID("https://x/images/zz.jpg"))
	assert.Equal(t, "", extractImageID("https://x/images/ab12.webp"))
	assert.True(t, isFinalImage("https://x/images/ab.jpg", 100_001))
	assert.False(t, isFinalImage("https://x/images/ab.png", 200_000))
}
