package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/smukkama/awair-bridge/internal/protocol"
)

const DefaultTopicPattern = "awair/{device_id}/{characteristic}"

// MQTTConfig holds MQTT sink configuration
type MQTTConfig struct {
	Broker       string
	ClientID     string
	Username     string
	Password     string
	TopicPattern string // e.g., "awair/{device_id}/{characteristic}"
	QoS          byte
	Retain       bool
}

// Command is a mode change requested by the host on {topic}/set
type Command struct {
	Serial         string
	Characteristic protocol.Characteristic
	Payload        string
}

// MQTT publishes each update as a plain payload on its own topic, retained so a
// host that connects late still sees the current state
type MQTT struct {
	client  mqtt.Client
	config  MQTTConfig
	timeout time.Duration
}

// NewMQTT connects to the broker
func NewMQTT(config MQTTConfig) (*MQTT, error) {
	if config.TopicPattern == "" {
		config.TopicPattern = DefaultTopicPattern
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(connectHandler)
	opts.SetConnectionLostHandler(connectLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	log.Println("MQTT: Connected to broker:", config.Broker)
	return NewMQTTWithClient(client, config), nil
}

// NewMQTTWithClient wraps an existing paho client
func NewMQTTWithClient(client mqtt.Client, config MQTTConfig) *MQTT {
	if config.TopicPattern == "" {
		config.TopicPattern = DefaultTopicPattern
	}
	return &MQTT{client: client, config: config, timeout: 5 * time.Second}
}

// Topic expands the topic pattern for a device and characteristic
func (m *MQTT) Topic(serial string, c protocol.Characteristic) string {
	return formatTopic(m.config.TopicPattern, serial, string(c))
}

func (m *MQTT) Publish(_ context.Context, u protocol.Update) error {
	topic := m.Topic(u.Device.Serial, u.Characteristic)

	token := m.client.Publish(topic, m.config.QoS, m.config.Retain, u.Payload())
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

func (m *MQTT) PublishAlert(_ context.Context, a protocol.AlertEvent) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	topic := formatTopic(m.config.TopicPattern, a.Device.Serial, "alerts")
	token := m.client.Publish(topic, m.config.QoS, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

// SubscribeCommands delivers host commands published on {pattern}/set for the
// display and LED characteristics
func (m *MQTT) SubscribeCommands(handler func(Command)) error {
	topic := formatTopic(m.config.TopicPattern, "+", "+") + "/set"

	token := m.client.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		cmd, ok := m.parseCommand(msg.Topic(), string(msg.Payload()))
		if !ok {
			log.Printf("MQTT: ignoring command on %s", msg.Topic())
			return
		}
		handler(cmd)
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, token.Error())
	}

	log.Printf("MQTT: Subscribed to command topic: %s", topic)
	return nil
}

// parseCommand matches a concrete topic against the pattern to recover the
// device and characteristic
func (m *MQTT) parseCommand(topic, payload string) (Command, bool) {
	topic = strings.TrimSuffix(topic, "/set")
	pattern := strings.Split(m.config.TopicPattern, "/")
	parts := strings.Split(topic, "/")
	if len(pattern) != len(parts) {
		return Command{}, false
	}

	var cmd Command
	for i, p := range pattern {
		switch p {
		case "{device_id}":
			cmd.Serial = parts[i]
		case "{characteristic}":
			c, err := protocol.ParseCharacteristic(parts[i])
			if err != nil {
				return Command{}, false
			}
			cmd.Characteristic = c
		default:
			if p != parts[i] {
				return Command{}, false
			}
		}
	}

	switch cmd.Characteristic {
	case protocol.CharDisplayMode, protocol.CharLEDMode, protocol.CharLEDBrightness:
	default:
		return Command{}, false
	}
	cmd.Payload = strings.TrimSpace(payload)
	return cmd, cmd.Serial != ""
}

func (m *MQTT) Close() error {
	m.client.Disconnect(250)
	log.Println("MQTT: Disconnected")
	return nil
}

// formatTopic replaces the {device_id} and {characteristic} placeholders
func formatTopic(pattern, deviceID, characteristic string) string {
	t := strings.ReplaceAll(pattern, "{device_id}", deviceID)
	return strings.ReplaceAll(t, "{characteristic}", characteristic)
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Println("MQTT: Connection established")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("MQTT: Connection lost: %v", err)
}
