// Package telemetry publishes lobby events and client status to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LeonardBesson/lobby-client-lib/internal/config"
	"github.com/LeonardBesson/lobby-client-lib/internal/events"
	"github.com/LeonardBesson/lobby-client-lib/internal/util"
)

// Topic suffixes under the configured prefix.
const (
	TopicEvents = "events" // <prefix>/events/<event type>
	TopicStatus = "status" // retained client status
	TopicAdmin  = "admin"  // startup and shutdown notices
)

// ErrDisabled is returned by NewMQTTHandler when MQTT is turned off.
var ErrDisabled = errors.New("MQTT is disabled")

const subscriberName = "mqtt.events"

// MQTTHandler forwards every bus event to the broker as JSON, decorated with
// host metadata.
type MQTTHandler struct {
	mu sync.Mutex

	client   mqtt.Client
	eventBus *events.EventBus
	prefix   string
	broker   string

	// Metadata included in every message
	metadata map[string]interface{}

	logger zerolog.Logger
}

// NewMQTTHandler creates the handler and its paho client. It does not connect.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, appVersion string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	sysInfo := util.GetSystemInfo()

	scheme := "tcp"
	if cfg.UseTLS {
		scheme = "ssl"
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.BrokerURL, cfg.Port)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("lobbyclient-%s", sysInfo.Hostname))
	}
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(true)

	if cfg.UseTLS {
		tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
		if cfg.CAFile != "" {
			pem, err := os.ReadFile(cfg.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", cfg.CAFile)
			}
			tlsConfig.RootCAs = pool
		}
		opts.SetTLSConfig(tlsConfig)
	}

	logger := log.With().Str("component", "mqtt").Logger()
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info().Str("broker", broker).Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	metadata := map[string]interface{}{
		"hostname":    sysInfo.Hostname,
		"os":          sysInfo.OS,
		"arch":        sysInfo.Architecture,
		"cpu_cores":   sysInfo.CPUCores,
		"memory_mb":   sysInfo.TotalMemory,
		"app_version": appVersion,
	}

	h := newHandler(mqtt.NewClient(opts), eventBus, cfg.TopicPrefix, metadata)
	h.broker = broker
	return h, nil
}

func newHandler(client mqtt.Client, eventBus *events.EventBus, prefix string, metadata map[string]interface{}) *MQTTHandler {
	if prefix == "" {
		prefix = "lobby"
	}
	return &MQTTHandler{
		client:   client,
		eventBus: eventBus,
		prefix:   prefix,
		metadata: metadata,
		logger:   log.With().Str("component", "mqtt").Logger(),
	}
}

// Start connects to the broker, subscribes to the bus and blocks until ctx
// is cancelled.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().Str("broker", h.broker).Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.eventBus.Subscribe(events.EventAny, subscriberName, h.onEvent)
	h.publish(h.topic(TopicAdmin), false, map[string]interface{}{"event": "startup"})

	<-ctx.Done()

	h.eventBus.Unsubscribe(events.EventAny, subscriberName)
	h.PublishShutdown()
	h.client.Disconnect(500)
	h.logger.Info().Msg("MQTT disconnected")
	return nil
}

func (h *MQTTHandler) onEvent(_ context.Context, event events.Event) error {
	h.publish(h.topic(TopicEvents, string(event.Type)), false, map[string]interface{}{
		"type":   event.Type,
		"source": event.Source,
		"time":   event.Time.UTC().Format(time.RFC3339Nano),
		"data":   event.Payload,
	})
	return nil
}

// PublishStatus publishes a retained client status snapshot.
func (h *MQTTHandler) PublishStatus(status interface{}) {
	h.publish(h.topic(TopicStatus), true, status)
}

// PublishShutdown sends a shutdown notice.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(h.topic(TopicAdmin), false, map[string]interface{}{"event": "shutdown"})
}

func (h *MQTTHandler) topic(parts ...string) string {
	t := h.prefix
	for _, p := range parts {
		t += "/" + p
	}
	return t
}

// publish sends a JSON message. Messages are dropped while disconnected.
func (h *MQTTHandler) publish(topic string, retained bool, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	h.mu.Lock()
	token := h.client.Publish(topic, 1, retained, data)
	h.mu.Unlock()

	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}
