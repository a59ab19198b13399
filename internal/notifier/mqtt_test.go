package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	pkgmqtt "github.com/carthingy/carthingy/pkg/mqtt"
	"github.com/carthingy/carthingy/pkg/mqtt/topic"
)

type published struct {
	topic   string
	retain  bool
	payload []byte
}

type fakeClient struct {
	mu           sync.Mutex
	published    []published
	handlers     map[string]pkgmqtt.MessageHandler
	unsubscribed []string
	publishErr   error
	started      bool
	disconnect   bool
}

func (f *fakeClient) Start(context.Context) error           { f.started = true; return nil }
func (f *fakeClient) Disconnect(context.Context)            { f.disconnect = true }
func (f *fakeClient) AwaitConnection(context.Context) error { return nil }
func (f *fakeClient) IsConnected() bool                     { return f.started }
func (f *fakeClient) Unsubscribe(_ context.Context, t string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, t)
	return nil
}

func (f *fakeClient) Publish(_ context.Context, t string, _ int, retain bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, published{topic: t, retain: retain, payload: payload})
	return nil
}

func (f *fakeClient) Subscribe(_ context.Context, t string, _ int, h pkgmqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handlers == nil {
		f.handlers = map[string]pkgmqtt.MessageHandler{}
	}
	f.handlers[t] = h
	return nil
}

func (f *fakeClient) messages() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.published...)
}

func snap(phase model.Phase) session.Snapshot {
	return session.Snapshot{
		SessionID: "s1",
		Query:     model.Query{Identifier: "abc-123"},
		State:     model.SessionState{Phase: phase},
		Record:    model.NewVehicleRecord(),
	}
}

func TestMQTTNotifier_SessionEvents(t *testing.T) {
	client := &fakeClient{}
	n := New(client, topic.NewBuilder("carthingy/v1"), 1, "c1", nil)
	require.NoError(t, n.Start(context.Background()))

	n.OnUpdate(snap(model.PhaseConnecting))
	n.OnUpdate(snap(model.PhaseStreaming))
	n.OnUpdate(snap(model.PhaseStreaming))
	n.OnUpdate(snap(model.PhaseCompleted))
	n.Stop(context.Background())

	msgs := client.messages()
	require.Len(t, msgs, 5)
	assert.Equal(t, published{topic: "carthingy/v1/clients/c1/online", retain: true, payload: []byte("online")}, msgs[0])
	assert.Equal(t, published{topic: "carthingy/v1/clients/c1/online", retain: true, payload: []byte("offline")}, msgs[4])

	var phases []string
	for _, m := range msgs[1:4] {
		assert.Equal(t, "carthingy/v1/vehicles/ABC123/session", m.topic)
		var ev SessionEvent
		require.NoError(t, json.Unmarshal(m.payload, &ev))
		phases = append(phases, ev.Phase)
	}
	assert.Equal(t, []string{"Connecting", "Streaming", "Completed"}, phases)
	assert.True(t, client.disconnect)
}

func TestMQTTNotifier_PublishRecord(t *testing.T) {
	client := &fakeClient{}
	n := New(client, topic.NewBuilder("carthingy/v1"), 1, "c1", nil)

	s := snap(model.PhaseCompleted)
	s.Record.LicensePlate = "XYZ789"
	s.Record.Brand = "Toyota"

	got, err := n.PublishRecord(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "carthingy/v1/vehicles/XYZ789/record", got)

	msgs := client.messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].retain)
	var rm RecordMessage
	require.NoError(t, json.Unmarshal(msgs[0].payload, &rm))
	assert.Equal(t, "XYZ789", rm.Plate)
	assert.Equal(t, "Toyota", rm.Record.Brand)

	client.publishErr = errors.New("not connected")
	_, err = n.PublishRecord(context.Background(), s)
	assert.ErrorContains(t, err, "not connected")
}

func TestMQTTNotifier_FollowRecords(t *testing.T) {
	client := &fakeClient{}
	n := New(client, topic.NewBuilder("carthingy/v1"), 1, "c1", nil)

	got := make(chan RecordMessage, 1)
	require.NoError(t, n.FollowRecords(context.Background(), func(m RecordMessage) { got <- m }))

	h := client.handlers["carthingy/v1/vehicles/+/record"]
	require.NotNil(t, h)
	h(context.Background(), "carthingy/v1/vehicles/ABC123/record", []byte("not json"))
	h(context.Background(), "carthingy/v1/vehicles/ABC123/record", []byte(`{"plate":"ABC123"}`))

	select {
	case m := <-got:
		assert.Equal(t, "ABC123", m.Plate)
	case <-time.After(time.Second):
		t.Fatal("record not delivered")
	}

	n.Stop(context.Background())
	assert.Equal(t, []string{"carthingy/v1/vehicles/+/record"}, client.unsubscribed)
}

func TestPlateOf(t *testing.T) {
	s := snap(model.PhaseCompleted)
	assert.Equal(t, "ABC123", plateOf(s))

	s.Query = model.Query{Identifier: "Toyota Corolla", FreeText: true}
	assert.Equal(t, "_", plateOf(s))

	s.Record.LicensePlate = "qq-111"
	assert.Equal(t, "QQ111", plateOf(s))
}
