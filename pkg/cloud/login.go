package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
)

type tempToken struct {
	Token       string  `json:"token"`
	ValidUntil  float64 `json:"valid_until"`
	CurrentTime float64 `json:"current_time"`
	AgentID     string  `json:"agent_id"`
}

// Login exchanges the configured username and password for a temporary
// token through the dashboard's form login.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	username, password := c.username, c.password
	twoFactor := c.twoFactor
	c.mu.Unlock()
	if username == "" || password == "" {
		return fmt.Errorf("login: %w", ErrNoCredentials)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	session := &http.Client{
		Jar:       jar,
		Timeout:   c.httpClient.Timeout,
		Transport: c.httpClient.Transport,
	}

	c.logger.InfoContext(ctx, "logging in", "user", username)
	loginURL := c.baseURL + "/accounts/login/"
	if _, err := c.sessionDo(ctx, session, http.MethodGet, loginURL, nil); err != nil {
		return fmt.Errorf("login: fetch form: %w", err)
	}
	form := url.Values{
		"login":               {username},
		"password":            {password},
		"csrfmiddlewaretoken": {csrfToken(jar, loginURL)},
		"next":                {"/"},
	}
	page, err := c.sessionDo(ctx, session, http.MethodPost, loginURL, form)
	if err != nil {
		return fmt.Errorf("login: submit: %w", err)
	}

	if strings.Contains(string(page), "Two-Factor") {
		if twoFactor == nil {
			return ErrTwoFactorRequired
		}
		code, err := twoFactor(ctx)
		if err != nil {
			return fmt.Errorf("login: 2fa prompt: %w", err)
		}
		twoFactorURL := c.baseURL + "/accounts/2fa/authenticate/"
		form := url.Values{
			"csrfmiddlewaretoken": {csrfToken(jar, twoFactorURL)},
			"code":                {code},
		}
		if _, err := c.sessionDo(ctx, session, http.MethodPost, twoFactorURL, form); err != nil {
			return fmt.Errorf("login: 2fa: %w", err)
		}
	}

	data, err := c.sessionDo(ctx, session, http.MethodGet, c.baseURL+"/ch/v1/get_temp_token/", nil)
	if err != nil {
		return fmt.Errorf("login: fetch token: %w", err)
	}
	var tt tempToken
	if err := json.Unmarshal(data, &tt); err != nil || tt.Token == "" {
		return fmt.Errorf("login: no temporary token in response")
	}

	validFor := time.Duration((tt.ValidUntil - tt.CurrentTime) * float64(time.Second))
	expires := c.now().Add(validFor)

	c.mu.Lock()
	c.token = tt.Token
	c.tokenExpires = expires
	if tt.AgentID != "" {
		c.agentID = tt.AgentID
	}
	agentID := c.agentID
	onLogin := c.onLogin
	c.mu.Unlock()

	c.logger.InfoContext(ctx, "logged in", "expires_in", validFor.Round(time.Minute))
	if onLogin != nil {
		onLogin(tt.Token, expires, agentID)
	}
	return nil
}

// sessionDo performs a cookie-session request. Any non-200 status fails.
func (c *Client) sessionDo(ctx context.Context, session *http.Client, method, target string, form url.Values) ([]byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Referer", target)
	}
	resp, err := session.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Message: string(data)}
	}
	return data, nil
}

func csrfToken(jar http.CookieJar, target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return ""
	}
	for _, ck := range jar.Cookies(u) {
		if ck.Name == "csrftoken" {
			return ck.Value
		}
	}
	return ""
}
