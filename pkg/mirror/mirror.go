// Package mirror republishes each fill estimate to an MQTT broker.
package mirror

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/config"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/cycle"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
)

var _ cycle.Observer = (*Publisher)(nil)

// Client is the part of mqtt.Client the publisher uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the mirrored JSON document.
type Message struct {
	ID          int64     `json:"id"`
	Cycle       string    `json:"cycle"`
	Time        time.Time `json:"time"`
	Fullness    int       `json:"fullness"`
	TrashVolume float64   `json:"trash_volume"`
	TotalVolume float64   `json:"total_volume"`
	Upload      string    `json:"upload"`
}

// Topic returns "<prefix>/<id>/fill".
func Topic(prefix string, id int64) string {
	return fmt.Sprintf("%s/%d/fill", prefix, id)
}

// Publisher sends one message per estimated cycle.
type Publisher struct {
	client  Client
	topic   string
	timeout time.Duration
	log     logging.Logger
}

// NewPublisher creates a publisher for unit id.
func NewPublisher(client Client, prefix string, id int64, timeout time.Duration, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Nop()
	}
	return &Publisher{client: client, topic: Topic(prefix, id), timeout: timeout, log: log}
}

// Connect dials the broker in cfg.
func Connect(cfg config.MirrorConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, errors.Errorf("timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", cfg.Broker)
	}
	return c, nil
}

// Topic returns the topic messages go to.
func (p *Publisher) Topic() string {
	return p.topic
}

// Observe publishes the estimate of r. Skipped cycles are not mirrored.
func (p *Publisher) Observe(r cycle.Report) {
	if r.Skipped {
		return
	}
	if err := p.Publish(MessageFromReport(r)); err != nil {
		p.log.Warnf("mirror: %v", err)
	}
}

// Publish sends m with QoS 0, not retained.
func (p *Publisher) Publish(m Message) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if p.timeout > 0 {
		if !token.WaitTimeout(p.timeout) {
			return errors.Errorf("publish to %s timed out", p.topic)
		}
	} else {
		token.Wait()
	}
	if err := token.Error(); err != nil {
		return errors.Wrapf(err, "failed to publish to %s", p.topic)
	}
	return nil
}

// MessageFromReport builds the mirrored document.
func MessageFromReport(r cycle.Report) Message {
	return Message{
		ID:          r.Payload.ID,
		Cycle:       r.ID,
		Time:        r.Start,
		Fullness:    r.Estimate.Fullness,
		TrashVolume: r.Estimate.TrashVolume,
		TotalVolume: r.Estimate.TotalVolume,
		Upload:      r.Upload.Outcome.String(),
	}
}
