package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardBesson/lobby-client-lib/internal/config"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }

func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic    string
	retained bool
	body     map[string]interface{}
}

// fakeClient implements the subset of mqtt.Client the handler uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	connected    bool
	disconnected bool
	messages     []published
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = true
	return doneToken{}
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func (c *fakeClient) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	var body map[string]interface{}
	_ = json.Unmarshal(payload.([]byte), &body)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, retained: retained, body: body})
	return doneToken{}
}

func (c *fakeClient) snapshot() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]published(nil), c.messages...)
}

func TestNewMQTTHandlerDisabled(t *testing.T) {
	_, err := NewMQTTHandler(config.MQTTConfig{}, events.NewEventBus(1), "test")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestPublishDroppedWhileDisconnected(t *testing.T) {
	client := &fakeClient{}
	h := newHandler(client, events.NewEventBus(1), "", nil)

	h.PublishStatus(map[string]string{"state": "running"})
	assert.Empty(t, client.snapshot())
}

func TestEventsForwardedWithMetadata(t *testing.T) {
	client := &fakeClient{}
	bus := events.NewEventBus(8)
	h := newHandler(client, bus, "test", map[string]interface{}{"hostname": "box"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Start(ctx) }()

	require.Eventually(t, func() bool { return len(client.snapshot()) == 1 },
		time.Second, 5*time.Millisecond)

	ev := events.New(events.EventSystemNotification, "127.0.0.1:9000",
		events.SystemNotificationPayload{Content: "maintenance at noon"})
	require.NoError(t, bus.EmitSync(context.Background(), ev))

	h.PublishStatus(map[string]string{"state": "running"})

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 0, bus.HandlerCount(events.EventAny))

	msgs := client.snapshot()
	require.Len(t, msgs, 4)
	assert.Equal(t, "test/admin", msgs[0].topic)

	assert.Equal(t, "test/events/system_notification", msgs[1].topic)
	assert.Equal(t, "box", msgs[1].body["hostname"])
	payload := msgs[1].body["payload"].(map[string]interface{})
	assert.Equal(t, "127.0.0.1:9000", payload["source"])
	assert.Equal(t, "maintenance at noon", payload["data"].(map[string]interface{})["content"])

	assert.Equal(t, "test/status", msgs[2].topic)
	assert.True(t, msgs[2].retained)

	assert.Equal(t, "test/admin", msgs[3].topic)
	assert.Equal(t, "shutdown", msgs[3].body["payload"].(map[string]interface{})["event"])

	client.mu.Lock()
	assert.True(t, client.disconnected)
	client.mu.Unlock()
}
