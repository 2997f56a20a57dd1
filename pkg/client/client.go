// Package client talks to the messaging API over fasthttp. It satisfies the
// sync engine's Source and the compose protocol's Writer and Finder.
package client

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/valyala/fasthttp"

	"github.com/iwoork/homeforpup-sub006/pkg/api"
	"github.com/iwoork/homeforpup-sub006/pkg/api/auth"
	"github.com/iwoork/homeforpup-sub006/pkg/apperr"
	"github.com/iwoork/homeforpup-sub006/pkg/models"
)

const DefaultTimeout = 10 * time.Second

type Client struct {
	base      string
	hc        *fasthttp.Client
	apiKey    string
	userID    string
	userName  string
	signature string
	timeout   time.Duration
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithIdentity sets the acting user sent in X-User-ID and X-User-Name.
func WithIdentity(userID, userName string) Option {
	return func(c *Client) {
		c.userID = userID
		c.userName = userName
	}
}

// WithSigningKey signs the acting user id; apply after WithIdentity.
func WithSigningKey(key string) Option {
	return func(c *Client) {
		if key != "" && c.userID != "" {
			c.signature = auth.SignUser(c.userID, key)
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHTTPClient swaps the transport, e.g. for an in-memory listener.
func WithHTTPClient(hc *fasthttp.Client) Option {
	return func(c *Client) { c.hc = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:    strings.TrimRight(baseURL, "/"),
		hc:      &fasthttp.Client{Name: "homeforpup-messaging"},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// UserID is the acting user this client was built for.
func (c *Client) UserID() string { return c.userID }

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	uri := c.base + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderAPIKey, c.apiKey)
	}
	if c.userID != "" {
		req.Header.Set(auth.HeaderUserID, c.userID)
	}
	if c.userName != "" {
		req.Header.Set(auth.HeaderUserName, c.userName)
	}
	if c.signature != "" {
		req.Header.Set(auth.HeaderSignature, c.signature)
	}
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.hc.DoDeadline(req, resp, deadline); err != nil {
		return apperr.Transient(method+" "+path, err)
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusBadRequest {
		var eb api.ErrorBody
		msg := strings.TrimSpace(string(resp.Body()))
		if json.Unmarshal(resp.Body(), &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return apperr.FromStatus(status, msg)
	}
	if out == nil || status == fasthttp.StatusNoContent {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return errors.Wrapf(err, "decode %s %s response", method, path)
	}
	return nil
}

func (c *Client) CreateThread(ctx context.Context, in models.NewThread) (models.Thread, models.Message, error) {
	var out api.CreateThreadResponse
	err := c.do(ctx, fasthttp.MethodPost, "/v1/threads", nil, in, &out)
	return out.Thread, out.Message, err
}

func (c *Client) AppendMessage(ctx context.Context, in models.NewMessage) (models.Message, error) {
	var out api.MessageResponse
	err := c.do(ctx, fasthttp.MethodPost, "/v1/threads/"+url.PathEscape(in.ThreadID)+"/messages", nil, in, &out)
	return out.Message, err
}

func (c *Client) ListThreadsForUser(ctx context.Context, userID string) ([]models.Thread, error) {
	var out api.ThreadsResponse
	err := c.do(ctx, fasthttp.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/threads", nil, nil, &out)
	return out.Threads, err
}

func (c *Client) FindThreadsBetween(ctx context.Context, userA, userB string) ([]models.Thread, error) {
	var out api.ThreadsResponse
	q := url.Values{"with": {userB}}
	err := c.do(ctx, fasthttp.MethodGet, "/v1/users/"+url.PathEscape(userA)+"/threads", q, nil, &out)
	return out.Threads, err
}

func (c *Client) SearchThreads(ctx context.Context, userID string, filter models.ThreadFilter) ([]models.Thread, error) {
	q := url.Values{}
	if filter.Search != nil {
		q.Set("search", *filter.Search)
	}
	if filter.Read != nil {
		q.Set("read", strconv.FormatBool(*filter.Read))
	}
	if filter.Type != nil {
		q.Set("type", string(*filter.Type))
	}
	var out api.ThreadsResponse
	err := c.do(ctx, fasthttp.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/threads/search", q, nil, &out)
	return out.Threads, err
}

func (c *Client) UnreadTotal(ctx context.Context, userID string) (int, error) {
	var out api.UnreadResponse
	err := c.do(ctx, fasthttp.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/unread", nil, nil, &out)
	return out.Unread, err
}

func (c *Client) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	var out api.ThreadResponse
	err := c.do(ctx, fasthttp.MethodGet, "/v1/threads/"+url.PathEscape(threadID), c.actingQuery(), nil, &out)
	return out.Thread, err
}

// ListMessages fetches one page; before=0 means the newest page.
func (c *Client) ListMessages(ctx context.Context, threadID string, limit int, before int64) (models.MessagePage, error) {
	q := c.actingQuery()
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if before > 0 {
		q.Set("before", strconv.FormatInt(before, 10))
	}
	var page models.MessagePage
	err := c.do(ctx, fasthttp.MethodGet, "/v1/threads/"+url.PathEscape(threadID)+"/messages", q, nil, &page)
	return page, err
}

func (c *Client) MarkThreadRead(ctx context.Context, threadID, userID string) error {
	body := map[string]string{"user_id": userID}
	return c.do(ctx, fasthttp.MethodPost, "/v1/threads/"+url.PathEscape(threadID)+"/read", nil, body, nil)
}

func (c *Client) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, fasthttp.MethodDelete, "/v1/threads/"+url.PathEscape(threadID), c.actingQuery(), nil, nil)
}

// Health calls /readyz.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, fasthttp.MethodGet, "/readyz", nil, nil, nil)
}

func (c *Client) actingQuery() url.Values {
	q := url.Values{}
	if c.userID != "" {
		q.Set("user_id", c.userID)
	}
	return q
}
