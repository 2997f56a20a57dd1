package client

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/iwoork/homeforpup-sub006/pkg/api/auth"
	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

func serve(t *testing.T, h fasthttp.RequestHandler) *fasthttp.Client {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	go func() { _ = fasthttp.Serve(ln, h) }()
	hc := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	t.Cleanup(func() {
		hc.CloseIdleConnections()
		_ = ln.Close()
	})
	return hc
}

func TestClientSendsIdentityAndQuery(t *testing.T) {
	var got struct {
		method, path, query, key, user, name, sig string
	}
	hc := serve(t, func(ctx *fasthttp.RequestCtx) {
		got.method = string(ctx.Method())
		got.path = string(ctx.Path())
		got.query = string(ctx.QueryArgs().QueryString())
		got.key = string(ctx.Request.Header.Peek("X-API-Key"))
		got.user = string(ctx.Request.Header.Peek("X-User-ID"))
		got.name = string(ctx.Request.Header.Peek("X-User-Name"))
		got.sig = string(ctx.Request.Header.Peek("X-User-Signature"))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"messages":[{"id":"m1","content":"hi"}],"has_more":true,"next_before":42}`)
	})
	c := New("http://messaging.test/", WithHTTPClient(hc), WithAPIKey("k"),
		WithIdentity("alice", "Alice"), WithSigningKey("sk"))

	page, err := c.ListMessages(context.Background(), "t1", 20, 99)
	require.NoError(t, err)
	assert.Equal(t, "GET", got.method)
	assert.Equal(t, "/v1/threads/t1/messages", got.path)
	assert.Equal(t, "before=99&limit=20&user_id=alice", got.query)
	assert.Equal(t, "k", got.key)
	assert.Equal(t, "alice", got.user)
	assert.Equal(t, "Alice", got.name)
	assert.Equal(t, auth.SignUser("alice", "sk"), got.sig)
	assert.Equal(t, models.MessagePage{Messages: []models.Message{{ID: "m1", Content: "hi"}}, HasMore: true, NextBefore: 42}, page)
	assert.Equal(t, "alice", c.UserID())

	read := true
	q := "pup"
	threads, err := c.SearchThreads(context.Background(), "alice", models.ThreadFilter{Search: &q, Read: &read})
	require.NoError(t, err)
	assert.Empty(t, threads)
	assert.Equal(t, "/v1/users/alice/threads/search", got.path)
	assert.Equal(t, "read=true&search=pup", got.query)
}

func TestClientMapsErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		body   string
		is     func(error) bool
		msg    string
	}{
		{400, `{"error":"content must not be empty","kind":"validation"}`, apperr.IsValidation, "content must not be empty"},
		{403, `{"error":"nope","kind":"permission"}`, apperr.IsPermission, "nope"},
		{401, `{"error":"invalid signature"}`, apperr.IsPermission, "invalid signature"},
		{404, `{"error":"thread \"t1\" not found","kind":"not_found"}`, apperr.IsNotFound, `thread "t1" not found`},
		{503, `{"error":"store unavailable: get","kind":"transient_store"}`, apperr.IsTransient, ""},
		{429, `rate limit exceeded`, apperr.IsTransient, ""},
		{500, `boom`, apperr.IsTransient, ""},
	}
	for _, tt := range tests {
		t.Run(fasthttp.StatusMessage(tt.status), func(t *testing.T) {
			hc := serve(t, func(ctx *fasthttp.RequestCtx) {
				ctx.SetStatusCode(tt.status)
				ctx.SetBodyString(tt.body)
			})
			c := New("http://messaging.test", WithHTTPClient(hc))
			err := c.MarkThreadRead(context.Background(), "t1", "alice")
			require.Error(t, err)
			assert.True(t, tt.is(err), "kind %s: %v", apperr.KindOf(err), err)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, err.Error())
			}
		})
	}
}

func TestClientNetworkErrorsAreTransient(t *testing.T) {
	hc := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return nil, errors.New("connection refused") }}
	c := New("http://messaging.test", WithHTTPClient(hc), WithTimeout(time.Second))
	_, err := c.ListThreadsForUser(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, apperr.IsTransient(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.ListThreadsForUser(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientNoContent(t *testing.T) {
	hc := serve(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusNoContent)
	})
	c := New("http://messaging.test", WithHTTPClient(hc))
	assert.NoError(t, c.DeleteThread(context.Background(), "t1"))
	assert.NoError(t, c.Health(context.Background()))
}
