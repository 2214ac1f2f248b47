package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/selimbenhamida/revend-backend/pkg/config"
	"github.com/selimbenhamida/revend-backend/pkg/logger"
)

var errProjectIDRequired = errors.New("gcp project id is required")

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient creates a Pub/Sub v2 client and verifies the configured
// subscriptions exist before handing the client out.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: gcp.ProjectID, cfg: cfg}
	if err := c.checkSubscriptions(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	for _, name := range []string{c.cfg.OrdersSubscription} {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		fullName := c.resourceName("subscriptions", name)
		if fullName == "" {
			return fmt.Errorf("subscription %q not configured", name)
		}

		_, err := c.client.SubscriptionAdminClient.GetSubscription(
			ctx,
			&pubsubpb.GetSubscriptionRequest{Subscription: fullName},
		)
		switch {
		case err == nil:
		case status.Code(err) == codes.NotFound:
			// v2 surfaces lookups as gRPC errors.
			return fmt.Errorf("subscription %q does not exist", name)
		default:
			return fmt.Errorf("checking subscription %q: %w", name, err)
		}
	}
	return nil
}

// Subscription returns a v2 Subscriber handle for the given subscription name (ID or full resource name).
func (c *Client) Subscription(name string) *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName("subscriptions", name)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// OrdersSubscription returns the configured order event subscriber.
func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	return c.Subscription(c.cfg.OrdersSubscription)
}

// Publisher returns a publisher handle for the given topic ID/resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.resourceName("topics", name)
	if fullName == "" {
		return nil
	}
	return c.client.Publisher(fullName)
}

// OrdersPublisher returns the configured order event publisher.
func (c *Client) OrdersPublisher() *pubsub.Publisher {
	return c.Publisher(c.cfg.OrdersTopic)
}

// Ping verifies Pub/Sub connectivity by checking configured subscriptions exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.checkSubscriptions(ctx)
}

// Close releases the Pub/Sub client resources.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// resourceName expands a bare ID into projects/<id>/<kind>/<name>.
// Full resource names pass through untouched.
func (c *Client) resourceName(kind, name string) string {
	if c == nil {
		return ""
	}
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(c.projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
