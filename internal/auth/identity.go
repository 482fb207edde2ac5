package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/domain"
)

// Profile is the subset of identity-provider user info the control plane uses.
type Profile struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

// IdentityProvider is the capability set required from the external identity
// provider. Token verification and user lookup happen there; the control
// plane never inspects token contents itself.
type IdentityProvider interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
	FindInfoByQuery(ctx context.Context, query string) ([]Profile, error)
}

// OIDCClient talks to an Auth0-shaped identity provider over HTTP.
type OIDCClient struct {
	baseURL      string
	clientID     string
	clientSecret string
	audience     string
	client       *http.Client
	logger       *zap.Logger

	mu          sync.Mutex
	mgmtToken   string
	mgmtExpires time.Time
}

// NewOIDCClient builds an identity-provider client with a default 30s timeout.
func NewOIDCClient(baseURL, clientID, clientSecret, audience string, logger *zap.Logger) *OIDCClient {
	return &OIDCClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		clientID:     clientID,
		clientSecret: clientSecret,
		audience:     audience,
		client:       &http.Client{Timeout: 30 * time.Second},
		logger:       logger,
	}
}

type userInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (c *OIDCClient) userinfo(ctx context.Context, accessToken string) (userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/userinfo", nil)
	if err != nil {
		return userInfo{}, domain.NewUnexpected("build userinfo request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return userInfo{}, domain.NewUnexpected("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return userInfo{}, domain.NewUnauthorized("invalid access token")
	}
	if resp.StatusCode != http.StatusOK {
		return userInfo{}, domain.NewUnexpected(
			fmt.Sprintf("userinfo returned %d", resp.StatusCode), nil)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return userInfo{}, domain.NewUnexpected("decode userinfo", err)
	}
	if info.Sub == "" {
		return userInfo{}, domain.NewUnauthorized("token has no subject")
	}
	return info, nil
}

// VerifyAccessToken resolves an access token to its subject.
func (c *OIDCClient) VerifyAccessToken(ctx context.Context, accessToken string) (string, error) {
	info, err := c.userinfo(ctx, accessToken)
	if err != nil {
		return "", err
	}
	return info.Sub, nil
}

// FetchProfile returns the caller's profile.
func (c *OIDCClient) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	info, err := c.userinfo(ctx, accessToken)
	if err != nil {
		return Profile{}, err
	}
	return Profile{UserID: info.Sub, Email: info.Email, Name: info.Name}, nil
}

// managementToken fetches (and caches) a client-credentials token for the
// provider's management API.
func (c *OIDCClient) managementToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mgmtToken != "" && time.Now().Before(c.mgmtExpires) {
		return c.mgmtToken, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"audience":      {c.audience},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", domain.NewUnexpected("build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", domain.NewUnexpected("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", domain.NewUnexpected(
			fmt.Sprintf("token endpoint returned %d", resp.StatusCode), nil)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", domain.NewUnexpected("decode token response", err)
	}

	c.mgmtToken = body.AccessToken
	// Renew slightly early so in-flight requests never carry a stale token.
	c.mgmtExpires = time.Now().Add(time.Duration(body.ExpiresIn-60) * time.Second)
	return c.mgmtToken, nil
}

// FindInfoByQuery searches provider users, e.g. `email:"x@y.z"`.
func (c *OIDCClient) FindInfoByQuery(ctx context.Context, query string) ([]Profile, error) {
	token, err := c.managementToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + "/api/v2/users?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NewUnexpected("build users request", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, domain.NewUnexpected("identity provider unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewUnexpected(
			fmt.Sprintf("users endpoint returned %d", resp.StatusCode), nil)
	}

	var users []struct {
		UserID string `json:"user_id"`
		Email  string `json:"email"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, domain.NewUnexpected("decode users response", err)
	}

	out := make([]Profile, 0, len(users))
	for _, u := range users {
		out = append(out, Profile{UserID: u.UserID, Email: u.Email, Name: u.Name})
	}
	return out, nil
}
