// Package secapi implements rbac.Store over the backing cluster's security
// REST API. All calls are synchronous request/response with a bounded
// timeout; a timeout surfaces as rbac.ErrUnavailable, never as an
// authorization decision.
package secapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"clustersec.org/internal/config"
	"clustersec.org/internal/obs"
	"clustersec.org/internal/rbac"
)

// Client talks to the security API of the backing cluster.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	http     *http.Client
	limiter  *rate.Limiter
}

var _ rbac.Store = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests, custom TLS).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithInsecureTLS skips certificate verification. Only for clusters still
// running on certificates this tooling has not issued yet.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.http = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}
}

// New constructs a Client from the API section of the engine config.
func New(cfg config.APIConfig, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("%w: base URL is required", rbac.ErrInvalid)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("%w: base URL: %v", rbac.ErrInvalid, err)
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	c := &Client{
		baseURL:  base,
		username: cfg.Username,
		password: cfg.Password,
		timeout:  timeout,
		http:     &http.Client{},
	}
	if cfg.MutationsPerSecond > 0 {
		burst := cfg.MutationBurst
		if burst <= 0 {
			burst = cfg.MutationsPerSecond
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.MutationsPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Authenticate introspects the configured credentials.
func (c *Client) Authenticate(ctx context.Context) (rbac.AuthInfo, error) {
	var body struct {
		Username string   `json:"username"`
		Roles    []string `json:"roles"`
	}
	if _, _, err := c.do(ctx, "authenticate", http.MethodGet, "/_security/_authenticate", nil, "", &body); err != nil {
		return rbac.AuthInfo{}, err
	}
	return rbac.AuthInfo{Username: body.Username, Roles: body.Roles, Checked: time.Now().UTC()}, nil
}

// CreateUser writes the full user document, password included.
func (c *Client) CreateUser(ctx context.Context, u rbac.User) (rbac.Outcome, error) {
	if err := c.waitMutation(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(u.Username) == "" {
		return "", fmt.Errorf("%w: username is required", rbac.ErrInvalid)
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if _, _, err := c.do(ctx, "create_user", http.MethodPut, "/_security/user/"+url.PathEscape(u.Username), userDocument(u), "", nil); err != nil {
		return "", err
	}
	return rbac.OutcomeChanged, nil
}

// GetUser fetches a user (password is never returned by the API) together
// with the version token guarding subsequent writes.
func (c *Client) GetUser(ctx context.Context, username string) (rbac.User, rbac.Version, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return rbac.User{}, "", fmt.Errorf("%w: username is required", rbac.ErrInvalid)
	}
	var body map[string]userDoc
	_, header, err := c.do(ctx, "get_user", http.MethodGet, "/_security/user/"+url.PathEscape(username), nil, "", &body)
	if err != nil {
		return rbac.User{}, "", err
	}
	doc, ok := body[username]
	if !ok {
		return rbac.User{}, "", fmt.Errorf("user %s: %w", username, rbac.ErrNotFound)
	}
	return doc.toUser(username), rbac.Version(header.Get("ETag")), nil
}

// UpdateUser replaces the user document. The version token from the matching
// GetUser is required; a stale token fails with rbac.ErrConflict so the
// caller can rerun its read-modify-write loop.
func (c *Client) UpdateUser(ctx context.Context, u rbac.User, v rbac.Version) (rbac.Outcome, error) {
	if err := c.waitMutation(ctx); err != nil {
		return "", err
	}
	if strings.TrimSpace(u.Username) == "" {
		return "", fmt.Errorf("%w: username is required", rbac.ErrInvalid)
	}
	if u.Roles == nil {
		u.Roles = []string{}
	}
	if _, _, err := c.do(ctx, "update_user", http.MethodPut, "/_security/user/"+url.PathEscape(u.Username), userDocument(u), string(v), nil); err != nil {
		return "", err
	}
	return rbac.OutcomeChanged, nil
}

// DeleteUser removes a user. Deleting an absent user is reported as skipped,
// not as an error.
func (c *Client) DeleteUser(ctx context.Context, username string) (rbac.Outcome, error) {
	if err := c.waitMutation(ctx); err != nil {
		return "", err
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", fmt.Errorf("%w: username is required", rbac.ErrInvalid)
	}
	_, _, err := c.do(ctx, "delete_user", http.MethodDelete, "/_security/user/"+url.PathEscape(username), nil, "", nil)
	if errors.Is(err, rbac.ErrNotFound) {
		return rbac.OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return rbac.OutcomeChanged, nil
}

// ListUsers returns all users, sorted by username.
func (c *Client) ListUsers(ctx context.Context) ([]rbac.User, error) {
	var body map[string]userDoc
	if _, _, err := c.do(ctx, "list_users", http.MethodGet, "/_security/user", nil, "", &body); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	users := make([]rbac.User, 0, len(names))
	for _, name := range names {
		users = append(users, body[name].toUser(name))
	}
	return users, nil
}

// CreateOrUpdateRole upserts a role. If the stored definition already equals
// the requested one the write is skipped, so repeating a call is a no-op.
func (c *Client) CreateOrUpdateRole(ctx context.Context, r rbac.Role) (rbac.Outcome, error) {
	if strings.TrimSpace(r.Name) == "" {
		return "", fmt.Errorf("%w: role name is required", rbac.ErrInvalid)
	}
	existing, err := c.GetRole(ctx, r.Name)
	if err == nil && rbac.RolesEqual(existing, r) {
		return rbac.OutcomeSkipped, nil
	}
	if err != nil && !errors.Is(err, rbac.ErrNotFound) {
		return "", err
	}
	if err := c.waitMutation(ctx); err != nil {
		return "", err
	}
	if _, _, err := c.do(ctx, "put_role", http.MethodPut, "/_security/role/"+url.PathEscape(r.Name), roleDocument(r), "", nil); err != nil {
		return "", err
	}
	return rbac.OutcomeChanged, nil
}

// GetRole fetches one role definition.
func (c *Client) GetRole(ctx context.Context, name string) (rbac.Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return rbac.Role{}, fmt.Errorf("%w: role name is required", rbac.ErrInvalid)
	}
	var body map[string]roleDoc
	if _, _, err := c.do(ctx, "get_role", http.MethodGet, "/_security/role/"+url.PathEscape(name), nil, "", &body); err != nil {
		return rbac.Role{}, err
	}
	doc, ok := body[name]
	if !ok {
		return rbac.Role{}, fmt.Errorf("role %s: %w", name, rbac.ErrNotFound)
	}
	return doc.toRole(name), nil
}

// DeleteRole removes a role; absent roles are reported as skipped.
func (c *Client) DeleteRole(ctx context.Context, name string) (rbac.Outcome, error) {
	if err := c.waitMutation(ctx); err != nil {
		return "", err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: role name is required", rbac.ErrInvalid)
	}
	_, _, err := c.do(ctx, "delete_role", http.MethodDelete, "/_security/role/"+url.PathEscape(name), nil, "", nil)
	if errors.Is(err, rbac.ErrNotFound) {
		return rbac.OutcomeSkipped, nil
	}
	if err != nil {
		return "", err
	}
	return rbac.OutcomeChanged, nil
}

// ListRoles returns all role definitions, sorted by name.
func (c *Client) ListRoles(ctx context.Context) ([]rbac.Role, error) {
	var body map[string]roleDoc
	if _, _, err := c.do(ctx, "list_roles", http.MethodGet, "/_security/role", nil, "", &body); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(body))
	for name := range body {
		names = append(names, name)
	}
	sort.Strings(names)
	roles := make([]rbac.Role, 0, len(names))
	for _, name := range names {
		roles = append(roles, body[name].toRole(name))
	}
	return roles, nil
}

func (c *Client) waitMutation(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit wait: %v", rbac.ErrUnavailable, err)
	}
	return nil
}

// do runs one request/response cycle: bounded timeout, basic auth, JSON
// codec, status-code mapping to the shared error taxonomy, and metrics.
func (c *Client) do(ctx context.Context, operation, method, path string, payload any, ifMatch string, out any) (int, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: encode request: %v", rbac.ErrInvalid, err)
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: build request: %v", rbac.ErrInvalid, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if ifMatch != "" {
		req.Header.Set("If-Match", ifMatch)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		obs.ObserveSecurityAPICall(operation, 0, time.Since(start))
		if ctx.Err() != nil {
			return 0, nil, fmt.Errorf("%w: %s timed out after %s", rbac.ErrUnavailable, operation, c.timeout)
		}
		return 0, nil, fmt.Errorf("%w: %v", rbac.ErrUnavailable, err)
	}
	defer resp.Body.Close()
	obs.ObserveSecurityAPICall(operation, resp.StatusCode, time.Since(start))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return resp.StatusCode, resp.Header, fmt.Errorf("%w: decode response: %v", rbac.ErrUnavailable, err)
			}
		}
		return resp.StatusCode, resp.Header, nil
	}

	detail := readErrorDetail(resp.Body)
	return resp.StatusCode, resp.Header, mapStatus(resp.StatusCode, operation, detail)
}

func mapStatus(code int, operation, detail string) error {
	switch {
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s: %s", rbac.ErrUnauthorized, operation, detail)
	case code == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", rbac.ErrForbidden, operation, detail)
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %s: %w", operation, detail, rbac.ErrNotFound)
	case code == http.StatusConflict || code == http.StatusPreconditionFailed:
		return fmt.Errorf("%s: %w", operation, rbac.ErrConflict)
	case code >= 400 && code < 500:
		return fmt.Errorf("%w: %s: %s", rbac.ErrInvalid, operation, detail)
	default:
		return fmt.Errorf("%w: %s: status %d: %s", rbac.ErrUnavailable, operation, code, detail)
	}
}

func readErrorDetail(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 2048))
	if err != nil || len(data) == 0 {
		return "no detail"
	}
	var body struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error.Reason != "" {
		return body.Error.Reason
	}
	return strings.TrimSpace(string(data))
}
