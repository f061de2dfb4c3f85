package chatgate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"
)

// DefaultHTTPTimeout is used by clients created without a custom http.Client.
const DefaultHTTPTimeout = 60 * time.Second

// Client wraps the HTTP interactions with the ChatGate REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials represents account credentials used to obtain access tokens.
type Credentials struct {
	GrantType string `json:"grant_type,omitempty"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Token represents an issued access token.
type Token struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the payload for the chat completion endpoint.
type ChatRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Provider  string    `json:"provider,omitempty"`
	Model     string    `json:"model,omitempty"`
	Messages  []Message `json:"messages"`
}

// File describes a file attached to a result.
type File struct {
	Name     string `json:"name,omitempty"`
	MIMEType string `json:"mime_type,omitempty"`
	URL      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}

// Envelope is the normalized result returned by every endpoint.
type Envelope struct {
	Text     string `json:"text,omitempty"`
	HTML     string `json:"html,omitempty"`
	Files    []File `json:"files,omitempty"`
	Provider string `json:"provider,omitempty"`
	Cached   bool   `json:"cached,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobSubmission is the payload for creating an asynchronous job.
type JobSubmission struct {
	ID        string            `json:"id,omitempty"`
	Kind      string            `json:"kind"`
	Summary   map[string]any    `json:"summary,omitempty"`
	Assistant map[string]any    `json:"assistant,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Job mirrors the server side job record.
type Job struct {
	ID        string     `json:"id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	Attempts  int        `json:"attempts"`
	LastError string     `json:"last_error,omitempty"`
	ErrorCode string     `json:"error_code,omitempty"`
	Result    *JobResult `json:"result,omitempty"`
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`
}

// JobResult carries the outcome of a finished job.
type JobResult struct {
	Text  string `json:"text,omitempty"`
	HTML  string `json:"html,omitempty"`
	Files []File `json:"files,omitempty"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("chatgate api error (%d): %s", e.StatusCode, e.Message)
}

// ErrJobNotFinished is returned by WaitForJob when the deadline expires first.
var ErrJobNotFinished = errors.New("chatgate: job not finished")

// NewClient instantiates a client for the ChatGate API. When httpClient is nil
// a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Authenticate exchanges credentials for an access token and stores it for
// subsequent calls.
func (c *Client) Authenticate(ctx context.Context, creds Credentials) (Token, error) {
	var token Token
	if err := c.post(ctx, "/api/v1/auth/token", creds, &token, false); err != nil {
		return Token{}, err
	}
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.mu.Unlock()
	return token, nil
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

// Chat performs a non-streaming chat completion.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (Envelope, error) {
	var envelope Envelope
	if err := c.post(ctx, "/api/v1/chat", req, &envelope, true); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

// Translate translates text between languages.
func (c *Client) Translate(ctx context.Context, text, from, to string) (Envelope, error) {
	var envelope Envelope
	payload := map[string]string{"text": text, "from": from, "to": to}
	if err := c.post(ctx, "/api/v1/translations", payload, &envelope, true); err != nil {
		return Envelope{}, err
	}
	return envelope, nil
}

// SubmitJob creates a new asynchronous job.
func (c *Client) SubmitJob(ctx context.Context, submission JobSubmission) (Job, error) {
	var created Job
	if err := c.post(ctx, "/api/v1/jobs", submission, &created, true); err != nil {
		return Job{}, err
	}
	return created, nil
}

// GetJob fetches job details by identifier.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	var detail Job
	if err := c.get(ctx, "/api/v1/jobs/"+url.PathEscape(jobID), &detail, true); err != nil {
		return Job{}, err
	}
	return detail, nil
}

// WaitForJob polls the job until it reaches a terminal state or the context
// expires. A zero interval defaults to one second.
func (c *Client) WaitForJob(ctx context.Context, jobID string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		detail, err := c.GetJob(ctx, jobID)
		if err != nil {
			return Job{}, err
		}
		switch detail.Status {
		case "succeeded", "failed":
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return detail, fmt.Errorf("%w: %s", ErrJobNotFinished, detail.Status)
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any, withAuth bool) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, bytes.NewReader(body), withAuth)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, out any, withAuth bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil, withAuth)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		// 认证关闭的部署不下发令牌,此时直接发起匿名请求。
		if token := c.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		var envelope Envelope
		if len(data) > 0 && json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			apiErr.Message = envelope.Error
		} else {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
