package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/angelmondragon/entitlements-backend/pkg/config"
)

const project = "ent-test"

func fakeServer(t *testing.T, topics ...string) *pstest.Server {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	for _, topic := range topics {
		_, err := srv.GServer.CreateTopic(context.Background(), &pubsubpb.Topic{Name: "projects/" + project + "/topics/" + topic})
		require.NoError(t, err)
	}
	return srv
}

// newClient dials srv on a fresh connection, since a client that fails
// verification closes the conn it was given.
func newClient(t *testing.T, srv *pstest.Server, opts Options) (*Client, error) {
	t.Helper()
	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	opts.ClientOptions = append(opts.ClientOptions, option.WithGRPCConn(conn))
	c, err := New(context.Background(), config.GCPConfig{ProjectID: project}, config.PubSubConfig{UsageSubscription: "usage-worker"}, opts, nil)
	if c != nil {
		t.Cleanup(func() { _ = c.Close() })
	}
	return c, err
}

func TestNewRequiresProject(t *testing.T) {
	_, err := New(context.Background(), config.GCPConfig{}, config.PubSubConfig{}, Options{}, nil)
	assert.Error(t, err)
}

func TestNewVerifiesTopics(t *testing.T) {
	srv := fakeServer(t, "domain")

	_, err := newClient(t, srv, Options{Topics: []string{"domain", "missing"}})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, `topic "missing"`)
}

func TestNewVerifiesSubscriptions(t *testing.T) {
	srv := fakeServer(t, "usage")
	_, err := newClient(t, srv, Options{Subscriptions: []string{"usage-worker"}})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = srv.GServer.CreateSubscription(context.Background(), &pubsubpb.Subscription{
		Name:  "projects/" + project + "/subscriptions/usage-worker",
		Topic: "projects/" + project + "/topics/usage",
	})
	require.NoError(t, err)

	c, err := newClient(t, srv, Options{Subscriptions: []string{"usage-worker"}})
	require.NoError(t, err)
	sub, err := c.UsageSubscriber()
	require.NoError(t, err)
	assert.NotNil(t, sub)
}

func TestPublisherIsCachedAndPublishes(t *testing.T) {
	srv := fakeServer(t, "domain")
	c, err := newClient(t, srv, Options{Topics: []string{"domain"}})
	require.NoError(t, err)

	short, err := c.Publisher("domain")
	require.NoError(t, err)
	full, err := c.Publisher("projects/" + project + "/topics/domain")
	require.NoError(t, err)
	assert.Same(t, short, full)

	ctx := context.Background()
	id, err := short.Publish(ctx, &pubsub.Message{Data: []byte(`{"ok":true}`), Attributes: map[string]string{"event_type": "trial_activated"}}).Get(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "trial_activated", msgs[0].Attributes["event_type"])

	_, err = c.Publisher("  ")
	assert.Error(t, err)
}
