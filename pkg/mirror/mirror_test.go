package mirror

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/cycle"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/fill"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/logging"
	"github.com/EPCS-GreenCampus/GreenCampus-SmartDumpster/pkg/telemetry"
)

type fakeToken struct {
	err     error
	pending bool
}

func (t *fakeToken) Wait() bool                     { return !t.pending }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.pending }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !t.pending {
		close(ch)
	}
	return ch
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	token *fakeToken
	sent  []published
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.sent = append(c.sent, published{topic, qos, retained, payload.([]byte)})
	if c.token == nil {
		return &fakeToken{}
	}
	return c.token
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func report() cycle.Report {
	return cycle.Report{
		ID:       "c1",
		Start:    epoch,
		Estimate: fill.Estimate{Fullness: 71, TrashVolume: 22000, TotalVolume: 31104},
		Payload:  telemetry.Payload{ID: 7, Fullness: 71, Status: telemetry.StatusOK},
		Upload:   telemetry.Result{Outcome: telemetry.Delivered},
	}
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "greencampus/dumpster/7/fill", Topic("greencampus/dumpster", 7))
}

func TestObserve(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "greencampus/dumpster", 7, time.Second, nil)

	p.Observe(report())
	require.Len(t, client.sent, 1)

	sent := client.sent[0]
	assert.Equal(t, "greencampus/dumpster/7/fill", sent.topic)
	assert.Equal(t, byte(0), sent.qos)
	assert.False(t, sent.retained)

	var m Message
	require.NoError(t, json.Unmarshal(sent.payload, &m))
	assert.Equal(t, Message{
		ID:          7,
		Cycle:       "c1",
		Time:        epoch,
		Fullness:    71,
		TrashVolume: 22000,
		TotalVolume: 31104,
		Upload:      "delivered",
	}, m)
}

func TestObserve_Skipped(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisher(client, "x", 1, time.Second, nil)

	p.Observe(cycle.Report{Skipped: true})
	assert.Empty(t, client.sent)
}

func TestPublish_Errors(t *testing.T) {
	tests := []struct {
		name  string
		token *fakeToken
	}{
		{"broker error", &fakeToken{err: errors.New("not connected")}},
		{"timeout", &fakeToken{pending: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPublisher(&fakeClient{token: tt.token}, "x", 1, time.Second, nil)
			assert.Error(t, p.Publish(MessageFromReport(report())))
		})
	}
}

func TestObserve_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	p := NewPublisher(&fakeClient{token: &fakeToken{err: errors.New("not connected")}}, "x", 1, time.Second, logging.NewWriter(&buf))

	p.Observe(report())
	assert.Contains(t, buf.String(), "not connected")
}
