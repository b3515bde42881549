package sink

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	mqttConnectTimeout  = 10 * time.Second
	mqttPublishTimeout  = 5 * time.Second
	mqttDisconnectQuiet = 250 // milliseconds
	mqttKeepAlive       = 60 * time.Second
)

// ErrMQTTConnect is returned when the broker cannot be reached at startup.
var ErrMQTTConnect = errors.New("mqtt connection failed")

// MQTTConfig configures the MQTT sink.
type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	// Commands subscribes to <prefix>/<address>/<service>/<characteristic>/set
	// and writes the JSON payload to the characteristic.
	Commands bool
}

// Writer performs characteristic writes requested over MQTT.
type Writer interface {
	Write(address, service, characteristic string, value any, done func(error))
}

// MQTTSink publishes values and status as retained JSON messages:
//
//	<prefix>/<address>/<service>/<characteristic>  value
//	<prefix>/<address>/status                      session status
//	<prefix>/poll                                  poll report
//	<prefix>/online                                "true", or "false" as last will
type MQTTSink struct {
	client pahomqtt.Client
	cfg    MQTTConfig
	writer Writer
	logger logrus.FieldLogger
}

// NewMQTTSink connects to the broker. writer may be nil when cfg.Commands is off.
func NewMQTTSink(cfg MQTTConfig, writer Writer, logger logrus.FieldLogger) (*MQTTSink, error) {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "blimd"
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid mqtt qos %d", cfg.QoS)
	}

	s := &MQTTSink{cfg: cfg, writer: writer, logger: logger.WithField("sink", "mqtt")}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(mqttKeepAlive)
	opts.SetWill(s.topic("online"), "false", 1, true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) { s.onConnect() })
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.logger.WithError(err).Warn("MQTT connection lost")
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrMQTTConnect, mqttConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMQTTConnect, err)
	}
	return s, nil
}

// newMQTTSinkWithClient wraps an already connected client.
func newMQTTSinkWithClient(client pahomqtt.Client, cfg MQTTConfig, writer Writer, logger logrus.FieldLogger) *MQTTSink {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "blimd"
	}
	s := &MQTTSink{client: client, cfg: cfg, writer: writer, logger: logger.WithField("sink", "mqtt")}
	s.onConnect()
	return s
}

// onConnect runs on every (re)connect: it announces the sink and restores
// the command subscription.
func (s *MQTTSink) onConnect() {
	s.logger.WithField("broker", s.cfg.Broker).Info("MQTT connected")
	s.client.Publish(s.topic("online"), 1, true, "true")

	if !s.cfg.Commands || s.writer == nil {
		return
	}
	filter := s.topic("+", "+", "+", "set")
	token := s.client.Subscribe(filter, s.cfg.QoS, s.handleCommand)
	if !token.WaitTimeout(mqttPublishTimeout) {
		s.logger.WithField("topic", filter).Warn("MQTT subscribe timed out")
		return
	}
	if err := token.Error(); err != nil {
		s.logger.WithError(err).WithField("topic", filter).Warn("MQTT subscribe failed")
	}
}

func (s *MQTTSink) topic(parts ...string) string {
	return s.cfg.TopicPrefix + "/" + strings.Join(parts, "/")
}

func (s *MQTTSink) Name() string { return "mqtt" }

func (s *MQTTSink) WriteValue(v Value) error {
	return s.publishJSON(s.topic(v.Address, v.Service, v.Characteristic), true, v)
}

func (s *MQTTSink) WriteStatus(st Status) error {
	return s.publishJSON(s.topic(st.Address, "status"), true, st)
}

func (s *MQTTSink) WriteTick(t Tick) error {
	return s.publishJSON(s.topic("poll"), false, t)
}

func (s *MQTTSink) publishJSON(topic string, retained bool, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", topic, err)
	}
	if !s.client.IsConnected() {
		return fmt.Errorf("publishing %s: not connected", topic)
	}
	token := s.client.Publish(topic, s.cfg.QoS, retained, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publishing %s: timeout after %v", topic, mqttPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// handleCommand turns <prefix>/<address>/<service>/<characteristic>/set into a write.
func (s *MQTTSink) handleCommand(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := strings.Split(strings.TrimPrefix(msg.Topic(), s.cfg.TopicPrefix+"/"), "/")
	if len(parts) != 4 || parts[3] != "set" {
		s.logger.WithField("topic", msg.Topic()).Debug("Ignoring unexpected command topic")
		return
	}
	address, service, characteristic := parts[0], parts[1], parts[2]
	log := s.logger.WithFields(logrus.Fields{
		"address":        address,
		"service":        service,
		"characteristic": characteristic,
	})

	var value any
	if err := json.Unmarshal(msg.Payload(), &value); err != nil {
		log.WithError(err).Warn("Ignoring command with invalid JSON payload")
		return
	}
	value = normalizeJSON(value)

	log.WithField("value", value).Info("Write requested over MQTT")
	s.writer.Write(address, service, characteristic, value, func(err error) {
		if err != nil {
			log.WithError(err).Warn("MQTT write failed")
		}
	})
}

// normalizeJSON turns JSON numbers without a fraction into int64 so integer
// codecs accept them.
func normalizeJSON(v any) any {
	switch t := v.(type) {
	case float64:
		if t == float64(int64(t)) {
			return int64(t)
		}
		return t
	case []any:
		for i := range t {
			t[i] = normalizeJSON(t[i])
		}
		return t
	case map[string]any:
		for k := range t {
			t[k] = normalizeJSON(t[k])
		}
		return t
	default:
		return v
	}
}

// Close publishes the offline marker and disconnects.
func (s *MQTTSink) Close() error {
	if s.client.IsConnected() {
		token := s.client.Publish(s.topic("online"), 1, true, "false")
		token.WaitTimeout(mqttPublishTimeout)
	}
	s.client.Disconnect(mqttDisconnectQuiet)
	return nil
}
