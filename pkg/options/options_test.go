package options

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress("127.0.0.1:9464"))
	assert.NoError(t, ValidateAddress(":8080"))
	assert.NoError(t, ValidateAddress("localhost:80"))
	assert.Error(t, ValidateAddress("127.0.0.1"))
	assert.Error(t, ValidateAddress("127.0.0.1:http"))
	assert.Error(t, ValidateAddress("127.0.0.1:70000"))
}

func TestDefaultsAreValid(t *testing.T) {
	for name, o := range map[string]IOptions{
		"http":     NewHttpOptions(),
		"query":    NewQueryOptions(),
		"carstore": NewCarStoreOptions(),
		"report":   NewReportOptions(),
		"mqtt":     NewMqttOptions(),
		"s3":       NewS3Options(),
		"history":  NewHistoryOptions(),
		"refresh":  NewRefreshOptions(),
	} {
		assert.Empty(t, o.Validate(), name)
	}
}

func TestQueryOptions_Validate(t *testing.T) {
	o := NewQueryOptions()
	o.URL = "http://example.com/query"
	o.HandshakeTimeout = 0
	assert.Len(t, o.Validate(), 2)
}

func TestMqttOptions_Validate(t *testing.T) {
	o := NewMqttOptions()
	o.QoS = 3
	o.Broker = ""
	assert.Len(t, o.Validate(), 2)
}

func TestHttpOptions_DisabledSkipsValidation(t *testing.T) {
	o := NewHttpOptions()
	o.Addr = "nonsense"
	assert.NotEmpty(t, o.Validate())
	o.Enabled = false
	assert.Empty(t, o.Validate())
}

func TestAddFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	q, m := NewQueryOptions(), NewMqttOptions()
	q.AddFlags(fs)
	m.AddFlags(fs)

	require.NoError(t, fs.Parse([]string{
		"--query.url=wss://registry.example.com/ws",
		"--query.read-timeout=30s",
		"--mqtt.topic-root=fleet",
	}))
	assert.Equal(t, "wss://registry.example.com/ws", q.URL)
	assert.Equal(t, 30*time.Second, q.ReadTimeout)
	assert.Equal(t, "fleet", m.TopicRoot)

	cfg := m.ToClientConfig()
	assert.Equal(t, uint16(60), cfg.KeepAlive)
	assert.Equal(t, m.Broker, cfg.BrokerURL)
}

func TestRefreshOptions_Validate(t *testing.T) {
	o := NewRefreshOptions()
	assert.Empty(t, o.Validate())

	o.Schedule = "every tuesday"
	o.Pause = -time.Second
	assert.Len(t, o.Validate(), 2)
}

func TestHistoryOptions_Validate(t *testing.T) {
	o := NewHistoryOptions()
	assert.Contains(t, o.Path, "history.db")

	o.Path = ""
	assert.Len(t, o.Validate(), 1)
	o.Enabled = false
	assert.Empty(t, o.Validate())
}
