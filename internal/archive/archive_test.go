package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
)

type memProvider struct {
	objects map[string][]byte
	types   map[string]string
	putErr  error
}

func newMemProvider() *memProvider {
	return &memProvider{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memProvider) CheckBucket(context.Context) error { return nil }

func (m *memProvider) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func (m *memProvider) GeneratePresignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	return "https://s3.local/" + key + "?expires=" + expiry.String(), nil
}

func completed() session.Snapshot {
	rec := model.NewVehicleRecord()
	rec.LicensePlate = "ABC123"
	rec.Brand = "Toyota"
	return session.Snapshot{
		SessionID: "6f1c",
		Query:     model.Query{Identifier: "ABC123", Known: true},
		State:     model.SessionState{Phase: model.PhaseCompleted, Percentage: 100},
		Record:    rec,
		Log:       []string{"done"},
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "records/ABC123/s1.json", ObjectKey("abc-123", "s1"))
	assert.Equal(t, "records/_/s1.json", ObjectKey("", "s1"))
}

func TestArchiver_Archive(t *testing.T) {
	p := newMemProvider()
	a := New(p, time.Hour, nil)

	res, err := a.Archive(context.Background(), completed())
	require.NoError(t, err)
	assert.Equal(t, "records/ABC123/6f1c.json", res.Key)
	assert.Equal(t, "https://s3.local/records/ABC123/6f1c.json?expires=1h0m0s", res.URL)
	assert.Equal(t, contentTypeJSON, p.types[res.Key])

	var doc Document
	require.NoError(t, json.Unmarshal(p.objects[res.Key], &doc))
	assert.Equal(t, "6f1c", doc.SessionID)
	assert.Equal(t, "Toyota", doc.Record.Brand)
	assert.Equal(t, []string{"done"}, doc.Log)
}

func TestArchiver_NoPresign(t *testing.T) {
	a := New(newMemProvider(), 0, nil)
	res, err := a.Archive(context.Background(), completed())
	require.NoError(t, err)
	assert.Empty(t, res.URL)
}

func TestArchiver_Errors(t *testing.T) {
	p := newMemProvider()
	a := New(p, time.Hour, nil)

	snap := completed()
	snap.State.Phase = model.PhaseFailed
	_, err := a.Archive(context.Background(), snap)
	assert.ErrorIs(t, err, ErrNotCompleted)

	p.putErr = errors.New("bucket gone")
	_, err = a.Archive(context.Background(), completed())
	assert.EqualError(t, err, "bucket gone")
}
