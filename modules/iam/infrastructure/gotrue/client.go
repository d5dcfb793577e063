package gotrue

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
)

// Client talks to a GoTrue-compatible auth service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Session is the token response returned by the upstream. Raw keeps the
// body as received so it can be relayed unchanged.
type Session struct {
	AccessToken  string          `json:"access_token"`
	TokenType    string          `json:"token_type"`
	ExpiresIn    int             `json:"expires_in"`
	RefreshToken string          `json:"refresh_token"`
	User         map[string]any  `json:"user"`
	Raw          json.RawMessage `json:"-"`
}

// UserID returns the id of the signed-in user. Signups that still await
// email confirmation return the user object itself instead of a session.
func (s Session) UserID() string {
	if id, ok := s.User["id"].(string); ok && id != "" {
		return id
	}
	var bare struct {
		ID string `json:"id"`
	}
	if len(s.Raw) > 0 && json.Unmarshal(s.Raw, &bare) == nil {
		return bare.ID
	}
	return ""
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("gotrue: http %d: %s", e.StatusCode, msg)
}

func New(baseURL string, apiKey string) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("gotrue: missing base url")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.New("gotrue: invalid base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.New("gotrue: invalid base url scheme")
	}
	if u.Host == "" {
		return nil, errors.New("gotrue: invalid base url host")
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (c *Client) PasswordGrant(ctx context.Context, email string, password string) (Session, error) {
	return c.session(ctx, "/token?grant_type=password", "", map[string]any{
		"email":    email,
		"password": password,
	})
}

func (c *Client) RefreshGrant(ctx context.Context, refreshToken string) (Session, error) {
	return c.session(ctx, "/token?grant_type=refresh_token", "", map[string]any{
		"refresh_token": refreshToken,
	})
}

// SignUp registers a user. data lands in the user's metadata upstream.
func (c *Client) SignUp(ctx context.Context, email string, password string, data map[string]any) (Session, error) {
	body := map[string]any{
		"email":    email,
		"password": password,
	}
	if len(data) > 0 {
		body["data"] = data
	}
	return c.session(ctx, "/signup", "", body)
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	resp, err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return readHTTPError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) session(ctx context.Context, path string, accessToken string, payload map[string]any) (Session, error) {
	resp, err := c.do(ctx, http.MethodPost, path, accessToken, payload)
	if err != nil {
		return Session{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return Session{}, readHTTPError(resp)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Session{}, err
	}
	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return Session{}, err
	}
	out.Raw = raw
	return out, nil
}

func (c *Client) do(ctx context.Context, method string, path string, accessToken string, payload map[string]any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	return c.httpClient.Do(req)
}

// readHTTPError prefers the upstream's msg, error_description or error field.
func readHTTPError(resp *http.Response) error {
	const maxBody = 4096
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	msg := string(b)
	var body struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if json.Unmarshal(b, &body) == nil {
		for _, m := range []string{body.Msg, body.Message, body.ErrorDescription, body.Error} {
			if strings.TrimSpace(m) != "" {
				msg = m
				break
			}
		}
	}
	return &HTTPError{
		StatusCode: resp.StatusCode,
		Message:    msg,
	}
}
