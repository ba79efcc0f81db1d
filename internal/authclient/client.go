package authclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

// Default endpoint paths.
const (
	DefaultAuthPath    = "/auth"
	DefaultRefreshPath = "/auth/tokens"
	DefaultLogoutPath  = "/auth/logout"
	DefaultTimeout     = 30 * time.Second
)

// Option configures a Client.
type Option func(*clientConfig)

// clientConfig holds configuration for New.
type clientConfig struct {
	baseTransport http.RoundTripper
	timeout       time.Duration
	authPath      string
	refreshPath   string
	logoutPath    string
}

// WithTransport sets a custom base transport for backend requests.
// If not provided, http.DefaultTransport is used.
func WithTransport(transport http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.baseTransport = transport
	}
}

// WithTimeout bounds every backend request.
func WithTimeout(timeout time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = timeout
	}
}

// WithPaths overrides the endpoint paths. Empty values keep the defaults.
func WithPaths(authPath, refreshPath, logoutPath string) Option {
	return func(c *clientConfig) {
		if authPath != "" {
			c.authPath = authPath
		}
		if refreshPath != "" {
			c.refreshPath = refreshPath
		}
		if logoutPath != "" {
			c.logoutPath = logoutPath
		}
	}
}

// Client calls the backend authentication endpoints.
type Client struct {
	httpClient *resty.Client
	cfg        clientConfig
}

// New creates a Client for the backend at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL cannot be empty")
	}

	cfg := clientConfig{
		baseTransport: http.DefaultTransport,
		timeout:       DefaultTimeout,
		authPath:      DefaultAuthPath,
		refreshPath:   DefaultRefreshPath,
		logoutPath:    DefaultLogoutPath,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTransport(cfg.baseTransport).
		SetTimeout(cfg.timeout).
		SetHeader("Accept", "application/json")

	return &Client{httpClient: httpClient, cfg: cfg}, nil
}

// tokenResponse is the body returned by the authenticate and refresh endpoints.
type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    epochSeconds `json:"expires_at"`
}

// refreshRequest is the body sent to the refresh and logout endpoints.
type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Authenticate exchanges username and password for a token set.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*oauth2.Token, error) {
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetBasicAuth(username, password).
		Get(c.cfg.authPath)
	res, err = checkResponse("authenticate", res, err)
	if err != nil {
		return nil, err
	}
	return decodeToken("authenticate", res.Body())
}

// Refresh mints a new access token from refreshToken.
func (c *Client) Refresh(ctx context.Context, accessToken, refreshToken string) (*oauth2.Token, error) {
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post(c.cfg.refreshPath)
	res, err = checkResponse("refresh", res, err)
	if err != nil {
		return nil, err
	}
	return decodeToken("refresh", res.Body())
}

// Logout asks the backend to invalidate refreshToken. The response body is ignored.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	res, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(refreshRequest{RefreshToken: refreshToken}).
		Post(c.cfg.logoutPath)
	_, err = checkResponse("logout", res, err)
	return err
}

// checkResponse turns non-2xx responses into a *StatusError. Without this, failing
// responses would have a nil error.
func checkResponse(op string, res *resty.Response, err error) (*resty.Response, error) {
	if err != nil {
		return res, fmt.Errorf("%s request: %w", op, err)
	}
	if !res.IsSuccess() {
		return res, &StatusError{Op: op, StatusCode: res.StatusCode()}
	}
	return res, nil
}

func decodeToken(op string, body []byte) (*oauth2.Token, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: decoding token response: %w", op, err)
	}
	if resp.AccessToken == "" {
		return nil, fmt.Errorf("%s: token response without access_token", op)
	}

	tok := &oauth2.Token{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    "Bearer",
	}
	if resp.ExpiresAt > 0 {
		tok.Expiry = time.Unix(int64(resp.ExpiresAt), 0)
	}
	return tok, nil
}
