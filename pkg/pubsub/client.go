package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/natalfamilia/natal-backend/pkg/config"
	"github.com/natalfamilia/natal-backend/pkg/logger"
)

var (
	errProjectIDRequired = errors.New("gcp project id is required")
	errTopicRequired     = errors.New("pubsub orders topic is required")
)

// Client wraps a Pub/Sub v2 client bound to the order events topic.
type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig
}

// NewClient connects to Pub/Sub and checks that the orders topic (and the
// optional orders subscription) exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.OrdersTopic) == "" {
		return nil, errTopicRequired
	}

	var opts []option.ClientOption
	if creds := strings.TrimSpace(gcp.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{client: psClient, projectID: gcp.ProjectID, cfg: cfg}
	if err := c.Ping(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "topic", cfg.OrdersTopic), "pubsub client initialized")
	}
	return c, nil
}

// Ping verifies the orders topic and, when configured, the orders subscription.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	topic := topicResourceName(c.projectID, c.cfg.OrdersTopic)
	if _, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: topic}); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("topic %q does not exist", c.cfg.OrdersTopic)
		}
		return fmt.Errorf("checking topic %q: %w", c.cfg.OrdersTopic, err)
	}
	if name := strings.TrimSpace(c.cfg.OrdersSubscription); name != "" {
		sub := subscriptionResourceName(c.projectID, name)
		if _, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: sub}); err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("subscription %q does not exist", name)
			}
			return fmt.Errorf("checking subscription %q: %w", name, err)
		}
	}
	return nil
}

// Publisher returns a publisher for a topic id or full resource name.
func (c *Client) Publisher(name string) *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	full := topicResourceName(c.projectID, name)
	if full == "" {
		return nil
	}
	return c.client.Publisher(full)
}

// OrdersSubscription returns a subscriber for downstream consumers, or nil
// when no subscription is configured.
func (c *Client) OrdersSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	full := subscriptionResourceName(c.projectID, c.cfg.OrdersSubscription)
	if full == "" {
		return nil
	}
	return c.client.Subscriber(full)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func topicResourceName(project, name string) string {
	return resourceName(project, "topics", name)
}

func subscriptionResourceName(project, name string) string {
	return resourceName(project, "subscriptions", name)
}

func resourceName(project, kind, name string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(project)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
