package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// TokenProvider supplies a bearer token for a request. Credential exchange
// and impersonation mechanics live behind this hook.
type TokenProvider func(ctx context.Context) (string, error)

// HTTPClientOptions configures an HTTPClient.
type HTTPClientOptions struct {
	BaseURL       string
	TokenProvider TokenProvider
	HTTPClient    *http.Client
	UserAgent     string
	// ObserveCall, when set, receives the duration of every API round trip.
	ObserveCall func(time.Duration)
}

// HTTPClient implements Client against a REST API. It performs no retries;
// callers inject a retry-wrapped http.Client when they want backoff.
type HTTPClient struct {
	baseURL       string
	tokenProvider TokenProvider
	httpClient    *http.Client
	userAgent     string
	observeCall   func(time.Duration)
}

// NewHTTPClient creates a REST-backed Client.
func NewHTTPClient(opts HTTPClientOptions) *HTTPClient {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{
		baseURL:       baseURL,
		tokenProvider: opts.TokenProvider,
		httpClient:    httpClient,
		userAgent:     strings.TrimSpace(opts.UserAgent),
		observeCall:   opts.ObserveCall,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx)
		if err != nil {
			return fmt.Errorf("failed to obtain token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.observeCall != nil {
		c.observeCall(time.Since(start))
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{
			Code:    resp.StatusCode,
			Message: http.StatusText(resp.StatusCode),
			Body:    string(respBody),
		}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// ListSpaces lists spaces one page at a time.
func (c *HTTPClient) ListSpaces(ctx context.Context, pageSize int, pageToken string) (*SpacePage, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	var page SpacePage
	if err := c.do(ctx, http.MethodGet, "/v1/spaces", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GetSpace fetches a single space by resource name.
func (c *HTTPClient) GetSpace(ctx context.Context, name string) (*Space, error) {
	var space Space
	if err := c.do(ctx, http.MethodGet, "/v1/"+name, nil, nil, &space); err != nil {
		return nil, err
	}
	return &space, nil
}

// CreateSpace creates a space, honoring import mode when set.
func (c *HTTPClient) CreateSpace(ctx context.Context, space *Space) (*Space, error) {
	var created Space
	if err := c.do(ctx, http.MethodPost, "/v1/spaces", nil, space, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// PatchSpace updates the fields named by updateMask.
func (c *HTTPClient) PatchSpace(ctx context.Context, name, updateMask string, space *Space) (*Space, error) {
	q := url.Values{}
	q.Set("updateMask", updateMask)
	var updated Space
	if err := c.do(ctx, http.MethodPatch, "/v1/"+name, q, space, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteSpace deletes a space by resource name.
func (c *HTTPClient) DeleteSpace(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/"+name, nil, nil, nil)
}

// CompleteImport finishes import mode for a space.
func (c *HTTPClient) CompleteImport(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/v1/"+name+":completeImport", nil, struct{}{}, nil)
}

// CreateMessage creates a message under a space.
func (c *HTTPClient) CreateMessage(ctx context.Context, parent string, msg *Message, opts CreateMessageOptions) (*Message, error) {
	q := url.Values{}
	if opts.MessageID != "" {
		q.Set("messageId", opts.MessageID)
	}
	if opts.ReplyOption != "" {
		q.Set("messageReplyOption", opts.ReplyOption)
	}
	var created Message
	if err := c.do(ctx, http.MethodPost, "/v1/"+parent+"/messages", q, msg, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListMessages lists messages under a space.
func (c *HTTPClient) ListMessages(ctx context.Context, parent string, pageSize int, orderBy string) (*MessagePage, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if orderBy != "" {
		q.Set("orderBy", orderBy)
	}
	var page MessagePage
	if err := c.do(ctx, http.MethodGet, "/v1/"+parent+"/messages", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CreateReaction creates a reaction under a message.
func (c *HTTPClient) CreateReaction(ctx context.Context, parent string, reaction *Reaction) error {
	return c.do(ctx, http.MethodPost, "/v1/"+parent+"/reactions", nil, reaction, nil)
}

// NewReactionBatch returns a batch that dispatches its items sequentially
// over this client. The REST surface has no true multiplexed batch endpoint;
// the construct still gives callers per-item callbacks and a single blocking
// Execute, matching the Client contract.
func (c *HTTPClient) NewReactionBatch(callback BatchCallback) ReactionBatch {
	return &httpReactionBatch{client: c, callback: callback}
}

type batchItem struct {
	parent   string
	reaction *Reaction
}

type httpReactionBatch struct {
	client   *HTTPClient
	callback BatchCallback
	items    []batchItem
}

func (b *httpReactionBatch) Add(parent string, reaction *Reaction) {
	b.items = append(b.items, batchItem{parent: parent, reaction: reaction})
}

func (b *httpReactionBatch) Len() int { return len(b.items) }

func (b *httpReactionBatch) Execute(ctx context.Context) error {
	for i, item := range b.items {
		err := b.client.CreateReaction(ctx, item.parent, item.reaction)
		if b.callback != nil {
			b.callback(strconv.Itoa(i), err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// CreateMembership creates a membership under a space.
func (c *HTTPClient) CreateMembership(ctx context.Context, parent string, m *Membership) (*Membership, error) {
	var created Membership
	if err := c.do(ctx, http.MethodPost, "/v1/"+parent+"/members", nil, m, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

// ListMemberships lists memberships under a space.
func (c *HTTPClient) ListMemberships(ctx context.Context, parent string, pageSize int, pageToken string) (*MembershipPage, error) {
	q := url.Values{}
	if pageSize > 0 {
		q.Set("pageSize", strconv.Itoa(pageSize))
	}
	if pageToken != "" {
		q.Set("pageToken", pageToken)
	}
	var page MembershipPage
	if err := c.do(ctx, http.MethodGet, "/v1/"+parent+"/members", q, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// DeleteMembership deletes a membership by resource name.
func (c *HTTPClient) DeleteMembership(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodDelete, "/v1/"+name, nil, nil, nil)
}
