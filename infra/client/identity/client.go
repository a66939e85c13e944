package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/diagramhub/collab-service/internal/domain/model"
	"github.com/diagramhub/collab-service/internal/service"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sony/gobreaker"
)

// MePath is the auth service endpoint that resolves a bearer token.
const MePath = "/api/v1/auth/me"

var ErrUnavailable = errors.New("identity service unavailable")

var _ service.Auther = (*Client)(nil)

// Client resolves tokens against the auth service.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	cache   *expirable.LRU[string, model.Identity]
	logger  *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithCache(size int, ttl time.Duration) Option {
	return func(c *Client) {
		if size > 0 {
			c.cache = expirable.NewLRU[string, model.Identity](size, nil, ttl)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 3 * time.Second},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	// [RESILIENCE] Rejected tokens are answers, not failures; only transport
	// and 5xx errors count towards opening the breaker.
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "identity",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, service.ErrUnauthorized)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("CIRCUIT_STATE_CHANGED", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return c
}

type meResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Inspect returns the identity behind creds.Token.
func (c *Client) Inspect(ctx context.Context, creds service.Credentials) (model.Identity, error) {
	if creds.Token == "" {
		return model.Identity{}, service.ErrTokenRequired
	}

	// [HOT_PATH] Tokens are cached by digest only.
	key := digest(creds.Token)
	if c.cache != nil {
		if ident, ok := c.cache.Get(key); ok {
			return ident, nil
		}
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, creds.Token)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return model.Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return model.Identity{}, err
	}

	ident := res.(model.Identity)
	if c.cache != nil {
		c.cache.Add(key, ident)
	}
	return ident, nil
}

func (c *Client) fetch(ctx context.Context, token string) (model.Identity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+MePath, nil)
	if err != nil {
		return model.Identity{}, fmt.Errorf("identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return model.Identity{}, service.ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		return model.Identity{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return model.Identity{}, fmt.Errorf("identity decode: %w", err)
	}

	ident := model.Identity{UserID: me.ID, Username: me.Username}
	if ident.IsZero() {
		return model.Identity{}, service.ErrUnauthorized
	}
	return ident, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
