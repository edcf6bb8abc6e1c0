package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/timeworked/timeworked/internal/errors"
	"github.com/timeworked/timeworked/internal/httputil"
	"github.com/timeworked/timeworked/internal/model"
)

const (
	sessionsPath = "/api/timeworked"
	healthPath   = "/api/health"
)

// Client talks to the session server over HTTP. Transport failures come back
// as NETWORK_FAILURE, server rejections keep the server's error code.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	return NewWithHTTPClient(baseURL, &http.Client{Timeout: timeout})
}

func NewWithHTTPClient(baseURL string, httpClient *http.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *Client) StartSession(ctx context.Context, subjectID string) (*model.Session, error) {
	var session model.Session
	body := map[string]string{"subjectId": subjectID}
	if err := c.do(ctx, http.MethodPost, sessionsPath+"/start", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) StopSession(ctx context.Context, id string, endedAt *time.Time) (*model.Session, error) {
	var session model.Session
	body := map[string]*time.Time{"endedAt": endedAt}
	if err := c.do(ctx, http.MethodPatch, sessionsPath+"/stop/"+url.PathEscape(id), body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *Client) ListSessions(ctx context.Context, subjectID string) ([]model.Session, error) {
	path := sessionsPath
	if subjectID != "" {
		path += "?subjectId=" + url.QueryEscape(subjectID)
	}

	sessions := []model.Session{}
	if err := c.do(ctx, http.MethodGet, path, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// Liveness succeeds when the health endpoint answers 200.
func (c *Client) Liveness(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, healthPath, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.NetworkFailure(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.NetworkFailure(fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body httputil.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)

	code := body.Code
	if code == "" {
		code = httputil.CodeFromStatus(resp.StatusCode)
	}
	message := body.Error
	if message == "" {
		message = fmt.Sprintf("server returned %s", resp.Status)
	}
	return apperrors.New(code, message).WithDetails(body.Details)
}
