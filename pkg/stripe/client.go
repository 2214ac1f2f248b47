package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"
)

var (
	errAPIKeyRequired = errors.New("stripe api key is required")
	errSecretRequired = errors.New("stripe webhook signing secret is required")
	errInvalidEnv     = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)

	// Secret and restricted keys carry an env marker in their prefix; a
	// mismatch means the wrong key landed in this deployment.
	keyPrefixesByEnv = map[string][]string{
		testEnv: {"sk_test", "rk_test"},
		liveEnv: {"sk_live", "rk_live"},
	}
)

// Client wraps the Stripe API client with webhook signing metadata.
type Client struct {
	api           *stripe.Client
	environment   string
	signingSecret string
}

// NewClient initializes the Stripe SDK with validated credentials.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := strings.TrimSpace(strings.ToLower(cfg.Environment()))
	if env != testEnv && env != liveEnv {
		return nil, errInvalidEnv
	}

	apiKey := strings.TrimSpace(cfg.APIKey)
	signingSecret := strings.TrimSpace(cfg.Secret)
	switch {
	case apiKey == "":
		return nil, errAPIKeyRequired
	case signingSecret == "":
		return nil, errSecretRequired
	case !keyMatchesEnv(env, apiKey):
		return nil, fmt.Errorf("stripe environment %q requires a matching secret key (%s)",
			env, strings.Join(keyPrefixesByEnv[env], "/"))
	}

	api := stripe.NewClient(apiKey)
	stripe.Key = apiKey

	if logg != nil {
		logg.Info(ctx, fmt.Sprintf("stripe client initialized (%s)", env))
	}

	return &Client{
		api:           api,
		environment:   env,
		signingSecret: signingSecret,
	}, nil
}

// API returns the underlying Stripe API client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

// Environment reports the normalized Stripe environment in use.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret returns the webhook signing secret used to verify deliveries.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

func keyMatchesEnv(env, key string) bool {
	for _, prefix := range keyPrefixesByEnv[env] {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
