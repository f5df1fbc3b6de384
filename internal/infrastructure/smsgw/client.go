package smsgw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-otp-bridge/internal/config"
)

const tokenCacheKey = "smsgw"

// errUnauthorized marks a rejected bearer token so SendSMS can re-authenticate once.
var errUnauthorized = errors.New("sms gateway: unauthorized")

// TokenCache stores the gateway bearer token between calls and processes.
type TokenCache interface {
	Get(ctx context.Context, name string) (string, bool, error)
	Set(ctx context.Context, name, value string, ttl time.Duration) error
	Delete(ctx context.Context, name string) error
}

// Client is a bearer-token SMS gateway client (login, then send).
type Client struct {
	baseURL       string
	email         string
	password      string
	from          string
	acceptedState string
	tokenTTL      time.Duration
	cache         TokenCache
	http          *http.Client

	mu    sync.Mutex
	token string
}

// NewClient builds a gateway client. cache may be nil, in which case the token
// is kept in memory only.
func NewClient(cfg *config.Config, cache TokenCache) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.SMSGatewayURL, "/"),
		email:         cfg.SMSGatewayEmail,
		password:      cfg.SMSGatewayPassword,
		from:          cfg.SMSGatewayFrom,
		acceptedState: strings.ToLower(cfg.SMSGatewayAcceptedState),
		tokenTTL:      cfg.SMSGatewayTokenTTL,
		cache:         cache,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

type loginResponse struct {
	Message string `json:"message"`
	Data    struct {
		Token string `json:"token"`
	} `json:"data"`
}

type sendResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Authenticate exchanges the account credentials for a bearer token.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("email", c.email)
	form.Set("password", c.password)

	resp, err := c.postForm(ctx, "/auth/login", "", form)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("login", resp)
	}
	var out loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if out.Data.Token == "" {
		return "", errors.New("sms gateway login returned empty token")
	}
	return out.Data.Token, nil
}

// SendSMS sends text to phoneDigits. A rejected token is refreshed once.
// Any gateway status other than the accepted one is an error.
func (c *Client) SendSMS(ctx context.Context, phoneDigits, text string) error {
	tok, err := c.bearer(ctx, false)
	if err != nil {
		return err
	}
	err = c.send(ctx, tok, phoneDigits, text)
	if !errors.Is(err, errUnauthorized) {
		return err
	}
	tok, err = c.bearer(ctx, true)
	if err != nil {
		return err
	}
	return c.send(ctx, tok, phoneDigits, text)
}

func (c *Client) send(ctx context.Context, token, phoneDigits, text string) error {
	form := url.Values{}
	form.Set("mobile_phone", phoneDigits)
	form.Set("message", text)
	form.Set("from", c.from)

	resp, err := c.postForm(ctx, "/message/sms/send", token, form)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return errUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError("send", resp)
	}
	var out sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode send response: %w", err)
	}
	if strings.ToLower(out.Status) != c.acceptedState {
		return fmt.Errorf("sms gateway rejected message: status %q", out.Status)
	}
	return nil
}

// bearer returns a cached token, or logs in when refresh is set or nothing is cached.
func (c *Client) bearer(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !refresh {
		if c.token != "" {
			return c.token, nil
		}
		if c.cache != nil {
			if tok, ok, err := c.cache.Get(ctx, tokenCacheKey); err == nil && ok {
				c.token = tok
				return tok, nil
			}
		}
	} else if c.cache != nil {
		_ = c.cache.Delete(ctx, tokenCacheKey)
	}

	tok, err := c.Authenticate(ctx)
	if err != nil {
		return "", err
	}
	c.token = tok
	if c.cache != nil {
		_ = c.cache.Set(ctx, tokenCacheKey, tok, c.tokenTTL)
	}
	return tok, nil
}

func (c *Client) postForm(ctx context.Context, path, token string, form url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sms gateway %s: %w", path, err)
	}
	return resp, nil
}

func statusError(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("sms gateway %s status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(raw)))
}
