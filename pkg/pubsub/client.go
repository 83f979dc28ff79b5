// Package pubsub wraps the Pub/Sub v2 client with project-relative naming and
// a per-topic publisher cache.
package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
	"github.com/angelmondragon/entitlements-backend/pkg/gcp"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

var ErrNotFound = errors.New("pubsub: resource not found")

// Options tunes New. Extra client options are appended after credentials.
type Options struct {
	// Subscriptions must exist at startup and on every Ping.
	Subscriptions []string
	// Topics must exist at startup and on every Ping.
	Topics        []string
	ClientOptions []option.ClientOption
}

type Client struct {
	client  *pubsub.Client
	project string
	cfg     config.PubSubConfig
	opts    Options

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

func New(ctx context.Context, gcpCfg config.GCPConfig, cfg config.PubSubConfig, opts Options, logg *logger.Logger) (*Client, error) {
	project := strings.TrimSpace(gcpCfg.ProjectID)
	if project == "" {
		return nil, gcp.ErrNoProject
	}
	clientOpts := append(gcp.ClientOptions(gcpCfg), opts.ClientOptions...)
	ps, err := pubsub.NewClient(ctx, project, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: new client: %w", err)
	}
	c := &Client{
		client:     ps,
		project:    project,
		cfg:        cfg,
		opts:       opts,
		publishers: map[string]*pubsub.Publisher{},
	}
	if err := c.Ping(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"project_id":    project,
			"topics":        opts.Topics,
			"subscriptions": opts.Subscriptions,
		}), "pubsub client initialized")
	}
	return c, nil
}

// Ping confirms every required topic and subscription exists.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub: client not initialized")
	}
	for _, id := range c.opts.Topics {
		name, err := gcp.ResourceName(c.project, "topics", id)
		if err != nil {
			return err
		}
		_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		if err := classify("topic", id, err); err != nil {
			return err
		}
	}
	for _, id := range c.opts.Subscriptions {
		name, err := gcp.ResourceName(c.project, "subscriptions", id)
		if err != nil {
			return err
		}
		_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		if err := classify("subscription", id, err); err != nil {
			return err
		}
	}
	return nil
}

func classify(kind, id string, err error) error {
	switch {
	case err == nil:
		return nil
	case status.Code(err) == codes.NotFound:
		return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
	default:
		return fmt.Errorf("pubsub: get %s %q: %w", kind, id, err)
	}
}

// Publisher returns the shared publisher for topic, creating it on first use.
// Publishers are stopped by Close.
func (c *Client) Publisher(topic string) (*pubsub.Publisher, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("pubsub: client not initialized")
	}
	name, err := gcp.ResourceName(c.project, "topics", topic)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.publishers[name]
	if !ok {
		p = c.client.Publisher(name)
		c.publishers[name] = p
	}
	return p, nil
}

// Subscriber returns a receiver for subscription.
func (c *Client) Subscriber(subscription string) (*pubsub.Subscriber, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("pubsub: client not initialized")
	}
	name, err := gcp.ResourceName(c.project, "subscriptions", subscription)
	if err != nil {
		return nil, err
	}
	return c.client.Subscriber(name), nil
}

// UsageSubscriber is the receiver for ingested usage events.
func (c *Client) UsageSubscriber() (*pubsub.Subscriber, error) {
	return c.Subscriber(c.cfg.UsageSubscription)
}

// Close flushes and stops cached publishers before closing the connection.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for name, p := range c.publishers {
		p.Stop()
		delete(c.publishers, name)
	}
	c.mu.Unlock()
	return c.client.Close()
}
