// Package mqtt provides a publish-only MQTT client used to announce audit
// summaries. It wraps the Eclipse Paho library and supports optional TLS
// transport.
package mqtt

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/pitonyak/ADPStampInventory/internal/metrics"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second
	disconnectQuiesceMs   = 250
)

// ErrNotConnected is returned by Publish before a successful Connect.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config holds the parameters required to connect to an MQTT broker and
// publish to one topic.
type Config struct {
	BrokerURL      string // e.g., "tcp://127.0.0.1:1883" or "ssl://mqtt.example.com:8883"
	ClientID       string // optional; if empty, a random ID is generated
	Topic          string
	QoS            byte   // 0 or 1
	Username       string // optional
	Password       string // optional
	TLSCAFile      string // optional; path to CA certificate file for TLS verification
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// Publisher sends non-retained messages to a single topic.
type Publisher struct {
	config     Config
	pahoClient paho.Client
}

// NewPublisher validates the configuration and constructs the Paho client.
// The TCP connection is not opened until Connect is called.
func NewPublisher(config Config) (*Publisher, error) {
	if config.BrokerURL == "" {
		return nil, errors.New("mqtt: BrokerURL required")
	}
	if config.Topic == "" {
		return nil, errors.New("mqtt: Topic required")
	}
	if config.ClientID == "" {
		generatedID, err := generateClientID()
		if err != nil {
			return nil, fmt.Errorf("mqtt: generate client id: %w", err)
		}
		config.ClientID = generatedID
	}
	config = withDefaults(config)

	opts := paho.NewClientOptions().
		AddBroker(config.BrokerURL).
		SetClientID(config.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetKeepAlive(20 * time.Second).
		SetPingTimeout(5 * time.Second).
		SetConnectTimeout(config.ConnectTimeout).
		SetOnConnectHandler(func(paho.Client) {
			metrics.SetMQTTConnected(true)
			log.Printf("mqtt: connected to %s", config.BrokerURL)
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			metrics.SetMQTTConnected(false)
			if err != nil {
				log.Printf("mqtt: connection lost: %v", err)
			} else {
				log.Printf("mqtt: connection lost (reason unknown)")
			}
		})

	if config.Username != "" {
		opts.SetUsername(config.Username)
	}
	if config.Password != "" {
		opts.SetPassword(config.Password)
	}

	if isTLSBroker(config.BrokerURL) {
		tlsConfig, err := createMQTTTLSConfig(config)
		if err != nil {
			return nil, fmt.Errorf("mqtt: TLS configuration failed: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return &Publisher{config: config, pahoClient: paho.NewClient(opts)}, nil
}

func withDefaults(config Config) Config {
	if config.QoS > 1 {
		config.QoS = 1
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = defaultConnectTimeout
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = defaultPublishTimeout
	}
	return config
}

// Topic returns the configured topic.
func (p *Publisher) Topic() string {
	return p.config.Topic
}

// Connect opens the connection and blocks until the broker acknowledges it
// or the connect timeout elapses.
func (p *Publisher) Connect() error {
	if p.pahoClient == nil {
		return errors.New("mqtt: client not initialized")
	}

	token := p.pahoClient.Connect()
	if !token.WaitTimeout(p.config.ConnectTimeout) {
		metrics.SetMQTTConnected(false)
		return errors.New("mqtt: connect timeout")
	}
	if err := token.Error(); err != nil {
		metrics.SetMQTTConnected(false)
		return fmt.Errorf("mqtt: connect failed: %w", err)
	}
	metrics.SetMQTTConnected(true)
	return nil
}

// Publish sends payload to the configured topic and waits for the broker
// acknowledgement (QoS 1) or the local write (QoS 0). It gives up when ctx is
// done or the publish timeout elapses.
func (p *Publisher) Publish(ctx context.Context, payload []byte) error {
	if p.pahoClient == nil || !p.pahoClient.IsConnectionOpen() {
		metrics.RecordMQTTPublish(false)
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	token := p.pahoClient.Publish(p.config.Topic, p.config.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		metrics.RecordMQTTPublish(false)
		return fmt.Errorf("mqtt: publish to %s: %w", p.config.Topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		metrics.RecordMQTTPublish(false)
		return fmt.Errorf("mqtt: publish to %s: %w", p.config.Topic, err)
	}
	metrics.RecordMQTTPublish(true)
	return nil
}

// Close disconnects from the broker with a short quiesce period.
func (p *Publisher) Close() {
	metrics.SetMQTTConnected(false)

	if p.pahoClient != nil && p.pahoClient.IsConnectionOpen() {
		p.pahoClient.Disconnect(disconnectQuiesceMs)
	}
}

// isTLSBroker reports whether the broker URL scheme implies a TLS transport.
func isTLSBroker(brokerURL string) bool {
	lower := strings.ToLower(brokerURL)
	return strings.HasPrefix(lower, "ssl://") ||
		strings.HasPrefix(lower, "tls://") ||
		strings.HasPrefix(lower, "mqtts://") ||
		strings.HasPrefix(lower, "tcps://")
}

// createMQTTTLSConfig builds a tls.Config from Config.TLSCAFile or the
// system certificate pool.
func createMQTTTLSConfig(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if config.TLSCAFile != "" {
		caCert, err := os.ReadFile(config.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}

		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}

		tlsConfig.RootCAs = caCertPool
		log.Printf("mqtt: using custom CA certificate from %s", config.TLSCAFile)
		return tlsConfig, nil
	}

	systemCAs, err := x509.SystemCertPool()
	if err != nil {
		log.Printf("mqtt: failed to load system CA pool: %v, using empty pool", err)
		systemCAs = x509.NewCertPool()
	}
	tlsConfig.RootCAs = systemCAs
	return tlsConfig, nil
}

// generateClientID produces a random client identifier of the form
// "esp-randomness-<UUIDv4>".
func generateClientID() (string, error) {
	var uuid [16]byte
	if _, err := rand.Read(uuid[:]); err != nil {
		return "", err
	}

	uuid[6] = (uuid[6] & 0x0f) | 0x40 // version 4
	uuid[8] = (uuid[8] & 0x3f) | 0x80 // variant 10

	encoded := make([]byte, hex.EncodedLen(len(uuid)))
	hex.Encode(encoded, uuid[:])

	return fmt.Sprintf(
		"esp-randomness-%s-%s-%s-%s-%s",
		encoded[0:8],
		encoded[8:12],
		encoded[12:16],
		encoded[16:20],
		encoded[20:32],
	), nil
}
