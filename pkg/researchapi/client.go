// Package researchapi is the HTTP client for the research session server.
//
// It maps every non-2xx answer onto the typed errors in errors.go and
// attaches the anonymous client id to every request, with a bearer token
// whenever one is available.
package researchapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
)

const (
	BasePath             = "/api/research-sessions"
	DefaultCreateTimeout = 30 * time.Second
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Client struct {
	baseURL       string
	http          HTTPDoer
	tokens        TokenSource
	createTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		c.http = doer
	}
}

func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

func WithCreateTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.createTimeout = d
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/") + BasePath,
		http:          &http.Client{},
		tokens:        noToken{},
		createTimeout: DefaultCreateTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateSession POSTs a new session. It is the only call with an explicit
// abort timeout; exceeding it yields a *TimeoutError.
func (c *Client) CreateSession(ctx context.Context, req dto.CreateResearchSessionRequest) (*entity.RemoteSession, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.createTimeout)
	defer cancel()

	var session entity.RemoteSession
	err := c.doJSON(timeoutCtx, "create research session", http.MethodPost, "", req.ClientId, req, &session)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Op: "create research session", After: c.createTimeout}
		}
		return nil, err
	}
	return &session, nil
}

// UpdateSession PATCHes an existing session. A nil ExpectedVersion makes the
// update unconditional.
func (c *Client) UpdateSession(ctx context.Context, sessionId string, req dto.UpdateResearchSessionRequest) (*entity.RemoteSession, error) {
	var session entity.RemoteSession
	err := c.doJSON(ctx, "update research session", http.MethodPatch, "/"+url.PathEscape(sessionId), req.ClientId, req, &session)
	if err != nil {
		return nil, withSessionId(err, sessionId, req.ExpectedVersion)
	}
	return &session, nil
}

func (c *Client) FetchSession(ctx context.Context, sessionId, clientId string) (*entity.RemoteSession, error) {
	var session entity.RemoteSession
	err := c.doJSON(ctx, "fetch research session", http.MethodGet, "/"+url.PathEscape(sessionId), clientId, nil, &session)
	if err != nil {
		return nil, withSessionId(err, sessionId, nil)
	}
	return &session, nil
}

func (c *Client) ListSessions(ctx context.Context, clientId string) ([]entity.RemoteSession, error) {
	var sessions []entity.RemoteSession
	if err := c.doJSON(ctx, "list research sessions", http.MethodGet, "", clientId, nil, &sessions); err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []entity.RemoteSession{}
	}
	return sessions, nil
}

// EnrichItems asks for metadata of ids. Unknown ids are absent from the map.
func (c *Client) EnrichItems(ctx context.Context, ids []string, clientId string) (map[string]entity.ItemMetadata, error) {
	var resolved dto.EnrichItemsResponse
	req := dto.EnrichItemsRequest{PineconeIds: ids}
	if err := c.doJSON(ctx, "enrich research items", http.MethodPost, "/enrich", clientId, req, &resolved); err != nil {
		return nil, err
	}
	if resolved == nil {
		resolved = dto.EnrichItemsResponse{}
	}
	return resolved, nil
}

func (c *Client) ShareSession(ctx context.Context, sessionId, clientId string, req dto.ShareResearchSessionRequest) (*dto.ShareResearchSessionResponse, error) {
	var res dto.ShareResearchSessionResponse
	err := c.doJSON(ctx, "share research session", http.MethodPost, "/"+url.PathEscape(sessionId)+"/share", clientId, req, &res)
	if err != nil {
		return nil, withSessionId(err, sessionId, nil)
	}
	return &res, nil
}

func (c *Client) newRequest(ctx context.Context, method, path, clientId string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	target := c.baseURL + path
	if clientId != "" {
		target += "?" + url.Values{"clientId": {clientId}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("read auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// send performs the request. Non-2xx responses are consumed and turned into
// typed errors; a 2xx response is returned open for the caller to read.
func (c *Client) send(ctx context.Context, op, method, path, clientId string, body interface{}) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, clientId, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", op, ctxErr)
		}
		return nil, &NetworkError{Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, statusToError(op, resp.StatusCode, bodyBytes)
	}
	return resp, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path, clientId string, body, out interface{}) error {
	resp, err := c.send(ctx, op, method, path, clientId, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s: %w", op, ctxErr)
		}
		return &NetworkError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	envelope := dto.BaseResponse[json.RawMessage]{}
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if !envelope.Success {
		msg := envelope.Message
		if msg == "" {
			msg = "server reported failure"
		}
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return &StatusError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode data: %v", err)}
	}
	return nil
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func statusToError(op string, status int, body []byte) error {
	msg := extractMessage(body)

	switch {
	case status == http.StatusConflict:
		return &ConflictError{Message: msg}
	case status == http.StatusNotFound:
		return &NotFoundError{Message: msg}
	case status == http.StatusTooManyRequests:
		quota := &QuotaExceededError{Message: msg}
		var limit dto.LimitExceededResponse
		if err := json.Unmarshal(body, &limit); err == nil {
			quota.Limit = limit.Data.Limit
			quota.Used = limit.Data.Used
			quota.ResetAfter = limit.Data.ResetAfter
		}
		return quota
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &ValidationError{Message: msg}
	default:
		return &StatusError{Op: op, StatusCode: status, Message: msg}
	}
}

func extractMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Message != "" {
			return eb.Message
		}
		if eb.Error != "" {
			return eb.Error
		}
		return ""
	}
	return strings.TrimSpace(string(body))
}

// withSessionId fills in the session context the status mapper cannot know.
func withSessionId(err error, sessionId string, expected *int) error {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		conflict.SessionId = sessionId
		conflict.ExpectedVersion = expected
		conflict.Attempts = 1
	}
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		notFound.SessionId = sessionId
	}
	return err
}
