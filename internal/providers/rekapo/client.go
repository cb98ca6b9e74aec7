package rekapo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"rekapo/internal/domain"
	"rekapo/internal/ports"
)

const defaultHealthTimeout = 5 * time.Second

// Config controls how the backend is reached.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	HealthTimeout time.Duration
}

// Client implements ports.MeetingsAPI over the backend REST API.
type Client struct {
	http          *resty.Client
	tokens        ports.TokenSource
	healthTimeout time.Duration
}

func NewClient(cfg Config, tokens ports.TokenSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = defaultHealthTimeout
	}

	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{http: httpClient, tokens: tokens, healthTimeout: cfg.HealthTimeout}
}

// Health calls GET /health; any non-2xx or transport failure is an error.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("health check: unexpected status %d", resp.StatusCode())
	}
	return nil
}

// CreateMeeting creates a backend session record via POST /meetings.
func (c *Client) CreateMeeting(ctx context.Context, title string) (domain.RecordingSession, error) {
	req, err := c.request(ctx)
	if err != nil {
		return domain.RecordingSession{}, err
	}

	var out meetingResponse
	resp, err := req.
		SetBody(map[string]string{"session_title": title}).
		SetResult(&out).
		Post("/meetings")
	if err != nil {
		return domain.RecordingSession{}, fmt.Errorf("create meeting: %w", err)
	}
	if resp.IsError() {
		return domain.RecordingSession{}, fmt.Errorf("create meeting: %w", responseError(resp))
	}
	if out.ID == "" {
		return domain.RecordingSession{}, errors.New("create meeting: response has no session id")
	}
	return out.toDomain(), nil
}

// CompleteMeeting marks the session completed via PATCH /meetings/{id}.
func (c *Client) CompleteMeeting(ctx context.Context, id string) (domain.RecordingSession, error) {
	req, err := c.request(ctx)
	if err != nil {
		return domain.RecordingSession{}, err
	}

	var out meetingResponse
	resp, err := req.
		SetBody(map[string]string{"status": string(domain.MeetingStatusCompleted)}).
		SetResult(&out).
		Patch("/meetings/" + url.PathEscape(id))
	if err != nil {
		return domain.RecordingSession{}, fmt.Errorf("complete meeting %s: %w", id, err)
	}
	if resp.IsError() {
		return domain.RecordingSession{}, fmt.Errorf("complete meeting %s: %w", id, responseError(resp))
	}
	return out.toDomain(), nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx).SetHeader("Content-Type", "application/json")
	if c.tokens == nil {
		return req, nil
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve auth token: %w", err)
	}
	if token != "" {
		req.SetAuthToken(token)
	}
	return req, nil
}

type meetingResponse struct {
	ID           flexibleID `json:"id"`
	SessionTitle string     `json:"session_title"`
	StartTime    string     `json:"start_time"`
	Status       string     `json:"status"`
}

func (m meetingResponse) toDomain() domain.RecordingSession {
	status := domain.MeetingStatus(strings.ToLower(strings.TrimSpace(m.Status)))
	if status == "" {
		status = domain.MeetingStatusCreated
	}
	return domain.RecordingSession{
		ID:        string(m.ID),
		Title:     m.SessionTitle,
		Status:    status,
		StartTime: parseStartTime(m.StartTime),
	}
}

// flexibleID accepts both numeric and string identifiers.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", string(data), err)
	}
	*f = flexibleID(n.String())
	return nil
}

var startTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
}

func parseStartTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range startTimeLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts
		}
	}
	return time.Time{}
}

type apiError struct {
	Detail  any    `json:"detail"`
	Message string `json:"message"`
}

func responseError(resp *resty.Response) error {
	var body apiError
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if msg := strings.TrimSpace(body.Message); msg != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode(), msg)
		}
		if detail, ok := body.Detail.(string); ok && strings.TrimSpace(detail) != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode(), detail)
		}
	}
	return fmt.Errorf("status %d", resp.StatusCode())
}
