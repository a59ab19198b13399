// Package notifier publishes query sessions and their records over MQTT.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carthingy/carthingy/internal/pkg/metrics"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/pkg/log"
	pkgmqtt "github.com/carthingy/carthingy/pkg/mqtt"
	"github.com/carthingy/carthingy/pkg/mqtt/topic"
	"github.com/carthingy/carthingy/pkg/options"
)

const (
	presenceOnline  = "online"
	presenceOffline = "offline"

	queueSize      = 64
	publishTimeout = 5 * time.Second
	connectTimeout = 10 * time.Second
)

// SessionEvent is published on {root}/vehicles/{PLATE}/session for every phase change.
type SessionEvent struct {
	SessionID  string    `json:"session_id"`
	Identifier string    `json:"identifier"`
	Phase      string    `json:"phase"`
	Percentage float64   `json:"percentage"`
	Reason     string    `json:"reason,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// RecordMessage is published retained on {root}/vehicles/{PLATE}/record.
type RecordMessage struct {
	SessionID string              `json:"session_id"`
	Plate     string              `json:"plate"`
	Record    model.VehicleRecord `json:"record"`
	Timestamp time.Time           `json:"timestamp"`
}

type outbound struct {
	topic   string
	retain  bool
	payload []byte
}

// MQTTNotifier implements session.Observer.
type MQTTNotifier struct {
	client   pkgmqtt.Client
	topics   *topic.Builder
	qos      int
	clientID string
	logger   log.Logger
	now      func() time.Time

	// awaitTimeout bounds the wait for the first connection in Start.
	awaitTimeout time.Duration

	queue    chan outbound
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu         sync.Mutex
	lastPhases map[string]model.Phase
	followed   []string
}

var _ session.Observer = (*MQTTNotifier)(nil)

// NewMQTTNotifier builds a notifier with its own MQTT connection.
// The broker publishes "offline" on the client's presence topic if the process dies.
func NewMQTTNotifier(opts *options.MqttOptions, logger log.Logger) (*MQTTNotifier, error) {
	cfg := opts.ToClientConfig()
	if cfg.ClientID == "" {
		cfg.ClientID = "carthingy-" + strings.Split(uuid.NewString(), "-")[0]
	}

	topics := topic.NewBuilder(opts.TopicRoot)
	cfg.WillTopic = topics.ClientOnline(cfg.ClientID)
	cfg.WillPayload = []byte(presenceOffline)
	cfg.WillQoS = byte(opts.QoS)
	cfg.WillRetain = true

	client, err := pkgmqtt.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	n := New(client, topics, opts.QoS, cfg.ClientID, logger)
	if opts.ConnectTimeout > 0 {
		n.awaitTimeout = 2 * opts.ConnectTimeout
	}
	return n, nil
}

// New wraps an existing client.
func New(client pkgmqtt.Client, topics *topic.Builder, qos int, clientID string, logger log.Logger) *MQTTNotifier {
	if logger == nil {
		logger = log.Std()
	}
	return &MQTTNotifier{
		client:       client,
		topics:       topics,
		qos:          qos,
		clientID:     clientID,
		logger:       logger.WithName("notifier").WithValues("clientID", clientID),
		now:          time.Now,
		awaitTimeout: connectTimeout,
		queue:        make(chan outbound, queueSize),
		lastPhases:   make(map[string]model.Phase),
	}
}

// Start connects, announces presence and starts the publish worker.
// ctx only bounds the initial connect; the connection lives until Stop.
func (n *MQTTNotifier) Start(ctx context.Context) error {
	if err := n.client.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("notifier: start mqtt client: %w", err)
	}
	awaitCtx, cancel := context.WithTimeout(ctx, n.awaitTimeout)
	defer cancel()
	if err := n.client.AwaitConnection(awaitCtx); err != nil {
		return fmt.Errorf("notifier: await mqtt connection: %w", err)
	}
	if err := n.client.Publish(ctx, n.topics.ClientOnline(n.clientID), n.qos, true, []byte(presenceOnline)); err != nil {
		return fmt.Errorf("notifier: announce presence: %w", err)
	}

	n.wg.Add(1)
	go n.worker()
	return nil
}

// Stop drains queued events, drops record subscriptions, marks the client offline and disconnects.
// No updates may be delivered after Stop.
func (n *MQTTNotifier) Stop(ctx context.Context) {
	stopped := false
	n.stopOnce.Do(func() { stopped = true })
	if !stopped {
		return
	}
	close(n.queue)
	n.wg.Wait()

	n.mu.Lock()
	followed := n.followed
	n.followed = nil
	n.mu.Unlock()
	for _, filter := range followed {
		if err := n.client.Unsubscribe(ctx, filter); err != nil {
			n.logger.Warn("Failed to unsubscribe", "topic", filter, "error", err)
		}
	}

	if err := n.client.Publish(ctx, n.topics.ClientOnline(n.clientID), n.qos, true, []byte(presenceOffline)); err != nil {
		n.logger.Warn("Failed to clear presence", "error", err)
	}
	n.client.Disconnect(ctx)
}

// Connected reports whether the broker connection is up.
func (n *MQTTNotifier) Connected() bool {
	return n.client.IsConnected()
}

// OnUpdate queues a SessionEvent when the session phase changed.
// It never blocks; events are dropped when the queue is full.
func (n *MQTTNotifier) OnUpdate(snap session.Snapshot) {
	n.mu.Lock()
	prev, seen := n.lastPhases[snap.SessionID]
	if seen && prev == snap.State.Phase {
		n.mu.Unlock()
		return
	}
	if snap.State.Phase.IsTerminal() {
		delete(n.lastPhases, snap.SessionID)
	} else {
		n.lastPhases[snap.SessionID] = snap.State.Phase
	}
	n.mu.Unlock()

	payload, err := json.Marshal(SessionEvent{
		SessionID:  snap.SessionID,
		Identifier: snap.Query.Identifier,
		Phase:      string(snap.State.Phase),
		Percentage: snap.State.Percentage,
		Reason:     snap.State.Reason,
		Timestamp:  n.now().UTC(),
	})
	if err != nil {
		n.logger.Error(err, "Failed to encode session event")
		return
	}

	msg := outbound{topic: n.topics.VehicleSession(plateOf(snap)), payload: payload}
	select {
	case n.queue <- msg:
	default:
		n.logger.Warn("Session event queue full, dropping event", log.Session(snap.SessionID), log.KeyPhase, snap.State.Phase)
	}
}

// PublishRecord publishes a completed record, retained, and returns its topic.
func (n *MQTTNotifier) PublishRecord(ctx context.Context, snap session.Snapshot) (string, error) {
	plate := plateOf(snap)
	payload, err := json.Marshal(RecordMessage{
		SessionID: snap.SessionID,
		Plate:     plate,
		Record:    snap.Record,
		Timestamp: n.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("notifier: encode record: %w", err)
	}

	t := n.topics.VehicleRecord(plate)
	if err := n.client.Publish(ctx, t, n.qos, true, payload); err != nil {
		metrics.ReportsTotal.WithLabelValues("mqtt", "error").Inc()
		return "", fmt.Errorf("notifier: publish %s: %w", t, err)
	}
	metrics.ReportsTotal.WithLabelValues("mqtt", "ok").Inc()
	n.logger.Info("Published vehicle record", "topic", t, log.Session(snap.SessionID))
	return t, nil
}

// FollowRecords calls fn for every record published by any carthingy client.
func (n *MQTTNotifier) FollowRecords(ctx context.Context, fn func(RecordMessage)) error {
	filter := n.topics.VehicleRecordWildcard()
	err := n.client.Subscribe(ctx, filter, n.qos, func(_ context.Context, t string, payload []byte) {
		var msg RecordMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			n.logger.Warn("Ignoring malformed record message", "topic", t, "error", err)
			return
		}
		fn(msg)
	})
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.followed = append(n.followed, filter)
	n.mu.Unlock()
	return nil
}

func (n *MQTTNotifier) worker() {
	defer n.wg.Done()
	for msg := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		if err := n.client.Publish(ctx, msg.topic, n.qos, msg.retain, msg.payload); err != nil {
			n.logger.Error(err, "Failed to publish session event", "topic", msg.topic)
		}
		cancel()
	}
}

// plateOf prefers the plate the backend reported over the query identifier.
func plateOf(snap session.Snapshot) string {
	if p := snap.Record.LicensePlate; !model.IsUnknown(p) {
		return model.NormalizePlate(p)
	}
	if !snap.Query.FreeText {
		return model.NormalizePlate(snap.Query.Identifier)
	}
	return "_"
}
