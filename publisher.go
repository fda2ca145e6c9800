package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
)

// Topic channels under {prefix}/{device_id}/.
const (
	channelTelemetry = "telemetry"
	channelAlerts    = "alerts"
	channelStatus    = "status"
)

// Backoff between transient publish attempts: 500ms doubling to a 5s cap.
const (
	publishBackoffBase = 500 * time.Millisecond
	publishBackoffCap  = 5 * time.Second
)

// PublisherConfig holds the broker session and delivery settings.
type PublisherConfig struct {
	Endpoint       string
	Port           int
	ClientID       string
	RootCA         string // PEM paths; TLS is used when any are set
	DeviceCert     string
	PrivateKey     string
	Username       string // plain tcp fallback credentials
	Password       string
	TopicPrefix    string
	DeviceID       string
	QoS            byte
	Retain         bool
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	MaxAttempts    int // per telemetry/status publish
	AlertAttempts  int // per alert publish, stricter than MaxAttempts
	Simulate       bool
}

// FatalError wraps failures that retrying cannot fix: authentication and
// certificate rejections. The pipeline stops on these.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal publish error: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// PublishResult reports the outcome of one logical publish, including how
// many transport attempts it took.
type PublishResult struct {
	Topic    string
	Success  bool
	Attempts int
	Err      error
}

// PublisherMetrics is a snapshot of the delivery counters.
type PublisherMetrics struct {
	PublishCount int64
	ErrorCount   int64
	SuccessRate  float64 // percent of publishes delivered
	LastPublish  time.Time
}

// Publisher delivers telemetry, alert and status records to the broker with
// at-least-once semantics: transient failures retry with bounded exponential
// backoff, fatal ones surface immediately. In simulated mode every publish
// succeeds without a transport, so the rest of the pipeline can run offline.
type Publisher struct {
	cfg PublisherConfig

	topicTelemetry string
	topicAlerts    string
	topicStatus    string

	mu     sync.Mutex
	client mqtt.Client

	simConnected atomic.Bool
	publishCount atomic.Int64
	errorCount   atomic.Int64
	lastPublish  atomic.Int64 // unix nanos of the last delivered message
}

// NewPublisher derives the device's topics and prepares a client for the
// first Connect. No network activity happens here.
func NewPublisher(cfg PublisherConfig) *Publisher {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.AlertAttempts < 1 {
		cfg.AlertAttempts = 5
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	return &Publisher{
		cfg:            cfg,
		topicTelemetry: deviceTopic(cfg.TopicPrefix, cfg.DeviceID, channelTelemetry),
		topicAlerts:    deviceTopic(cfg.TopicPrefix, cfg.DeviceID, channelAlerts),
		topicStatus:    deviceTopic(cfg.TopicPrefix, cfg.DeviceID, channelStatus),
	}
}

func deviceTopic(prefix, deviceID, channel string) string {
	return fmt.Sprintf("%s/%s/%s", prefix, deviceID, channel)
}

// Connect establishes the broker session. Calling it while already
// connected is a no-op success.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.cfg.Simulate {
		if !p.simConnected.Swap(true) {
			log.Println("[simulated] Connected to MQTT broker")
		}
		return nil
	}

	p.mu.Lock()
	if p.client == nil {
		client, err := p.newClient()
		if err != nil {
			p.mu.Unlock()
			return err
		}
		p.client = client
	}
	client := p.client
	p.mu.Unlock()

	if client.IsConnected() {
		return nil
	}

	log.Printf("Connecting to MQTT broker at %s:%d...\n", p.cfg.Endpoint, p.cfg.Port)
	token := client.Connect()
	if err := waitToken(ctx, token, p.cfg.ConnectTimeout); err != nil {
		if isFatalErr(err) {
			return &FatalError{Err: err}
		}
		return fmt.Errorf("connect to %s:%d: %w", p.cfg.Endpoint, p.cfg.Port, err)
	}
	return nil
}

// Disconnect closes the session, letting in-flight messages drain briefly.
func (p *Publisher) Disconnect() {
	if p.cfg.Simulate {
		if p.simConnected.Swap(false) {
			log.Println("[simulated] Disconnected from MQTT broker")
		}
		return
	}
	client := p.currentClient()
	if client != nil && client.IsConnected() {
		client.Disconnect(250)
		log.Println("Disconnected from MQTT broker")
	}
}

// Connected reports whether a broker session is up.
func (p *Publisher) Connected() bool {
	if p.cfg.Simulate {
		return p.simConnected.Load()
	}
	client := p.currentClient()
	return client != nil && client.IsConnected()
}

func (p *Publisher) currentClient() mqtt.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.client
}

func (p *Publisher) newClient() (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	if p.cfg.RootCA != "" || p.cfg.DeviceCert != "" {
		tlsConfig, err := newTLSConfig(p.cfg.RootCA, p.cfg.DeviceCert, p.cfg.PrivateKey)
		if err != nil {
			// Broken cert material cannot connect no matter how often we try.
			return nil, &FatalError{Err: err}
		}
		opts.AddBroker(fmt.Sprintf("tls://%s:%d", p.cfg.Endpoint, p.cfg.Port))
		opts.SetTLSConfig(tlsConfig)
	} else {
		opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.cfg.Endpoint, p.cfg.Port))
		if p.cfg.Username != "" {
			opts.SetUsername(p.cfg.Username)
			opts.SetPassword(p.cfg.Password)
		}
	}
	opts.SetClientID(p.cfg.ClientID)
	opts.SetKeepAlive(p.cfg.KeepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Printf("MQTT connection lost: %v\n", err)
	})
	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Printf("Connected to MQTT broker at %s\n", p.cfg.Endpoint)
	})
	return mqtt.NewClient(opts), nil
}

// newTLSConfig loads the mutual-TLS material AWS IoT style brokers expect:
// a root CA to verify the broker and a device certificate to present.
func newTLSConfig(rootCA, cert, key string) (*tls.Config, error) {
	pool := x509.NewCertPool()
	ca, err := os.ReadFile(rootCA)
	if err != nil {
		return nil, fmt.Errorf("root CA: %w", err)
	}
	if !pool.AppendCertsFromPEM(ca) {
		return nil, fmt.Errorf("root CA %s: no usable certificates", rootCA)
	}
	pair, err := tls.LoadX509KeyPair(cert, key)
	if err != nil {
		return nil, fmt.Errorf("device certificate: %w", err)
	}
	return &tls.Config{
		RootCAs:      pool,
		Certificates: []tls.Certificate{pair},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// PublishTelemetry delivers the cycle's telemetry record.
func (p *Publisher) PublishTelemetry(ctx context.Context, rec TelemetryRecord) (PublishResult, error) {
	return p.publishJSON(ctx, channelTelemetry, p.topicTelemetry, rec, p.cfg.MaxAttempts)
}

// PublishAlert delivers an alert with the stricter attempt budget: losing an
// alert matters more than losing one telemetry sample.
func (p *Publisher) PublishAlert(ctx context.Context, rec AlertRecord) (PublishResult, error) {
	return p.publishJSON(ctx, channelAlerts, p.topicAlerts, rec, p.cfg.AlertAttempts)
}

// PublishStatus announces a lifecycle transition (online/offline).
func (p *Publisher) PublishStatus(ctx context.Context, rec StatusRecord) (PublishResult, error) {
	return p.publishJSON(ctx, channelStatus, p.topicStatus, rec, p.cfg.MaxAttempts)
}

func (p *Publisher) publishJSON(ctx context.Context, channel, topic string, v any, attempts int) (PublishResult, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return PublishResult{Topic: topic}, fmt.Errorf("marshal %s: %w", channel, err)
	}
	res, err := p.publish(ctx, topic, payload, attempts)
	if res.Success {
		publishTotal.WithLabelValues(channel).Inc()
	} else {
		publishErrors.WithLabelValues(channel).Inc()
	}
	return res, err
}

// publish delivers one payload with bounded exponential backoff. Fatal
// errors surface immediately; transient ones burn through the attempt
// budget before the failure is reported.
func (p *Publisher) publish(ctx context.Context, topic string, payload []byte, attempts int) (PublishResult, error) {
	if p.cfg.Simulate {
		p.recordDelivered()
		log.Printf("[simulated] Published to %s: %s\n", topic, payload)
		return PublishResult{Topic: topic, Success: true, Attempts: 1}, nil
	}

	n, err := retryPublish(ctx, topic, attempts, publishBackoffBase, publishBackoffCap, func() error {
		return p.publishOnce(ctx, topic, payload)
	})
	res := PublishResult{Topic: topic, Success: err == nil, Attempts: n, Err: err}
	if err != nil {
		p.errorCount.Add(1)
		return res, err
	}
	p.recordDelivered()
	return res, nil
}

func (p *Publisher) publishOnce(ctx context.Context, topic string, payload []byte) error {
	client := p.currentClient()
	if client == nil || !client.IsConnected() {
		return errors.New("not connected")
	}
	token := client.Publish(topic, p.cfg.QoS, p.cfg.Retain, payload)
	return waitToken(ctx, token, p.cfg.PublishTimeout)
}

// retryPublish runs op until it succeeds, turns fatal, exhausts the attempt
// budget, or ctx is cancelled. The backoff doubles per attempt up to the
// cap, and the sleep is cancellable so shutdown never waits out a full
// backoff ladder. Returns the number of attempts made.
func retryPublish(ctx context.Context, label string, attempts int, backoff, backoffCap time.Duration, op func() error) (int, error) {
	delay := backoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := op()
		if err == nil {
			return attempt, nil
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("aborted by shutdown: %w", err)
		}
		if isFatalErr(err) {
			return attempt, &FatalError{Err: err}
		}
		lastErr = err
		log.Printf("Publish to %s failed (attempt %d/%d): %v\n", label, attempt, attempts, err)
		if attempt < attempts {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return attempt, fmt.Errorf("aborted by shutdown: %w", lastErr)
			}
			delay = min(delay*2, backoffCap)
		}
	}
	return attempts, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// waitToken waits for a paho token, bounded by the timeout and cancellable
// by ctx.
func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(timeout):
		return fmt.Errorf("timed out after %s", timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// isFatalErr reports whether retrying could ever help. Authentication,
// authorization and certificate rejections stay broken until a human fixes
// the credentials, so they are not worth an attempt budget.
func isFatalErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised) ||
		errors.Is(err, packets.ErrorRefusedIDRejected) {
		return true
	}
	var unknownAuthority x509.UnknownAuthorityError
	var certInvalid x509.CertificateInvalidError
	if errors.As(err, &unknownAuthority) || errors.As(err, &certInvalid) {
		return true
	}
	// TLS handshake rejections reach us as alert strings, not typed errors.
	msg := err.Error()
	return strings.Contains(msg, "x509:") ||
		strings.Contains(msg, "bad certificate") ||
		strings.Contains(msg, "unknown certificate")
}

func (p *Publisher) recordDelivered() {
	p.publishCount.Add(1)
	p.lastPublish.Store(time.Now().UnixNano())
}

// Metrics returns a snapshot of the delivery counters.
func (p *Publisher) Metrics() PublisherMetrics {
	delivered := p.publishCount.Load()
	failed := p.errorCount.Load()
	m := PublisherMetrics{PublishCount: delivered, ErrorCount: failed}
	if total := delivered + failed; total > 0 {
		m.SuccessRate = float64(delivered) / float64(total) * 100
	}
	if ns := p.lastPublish.Load(); ns > 0 {
		m.LastPublish = time.Unix(0, ns)
	}
	return m
}
