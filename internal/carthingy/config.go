// Package carthingy wires the query session to its collaborators.
package carthingy

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/carthingy/carthingy/internal/archive"
	"github.com/carthingy/carthingy/internal/carstore"
	"github.com/carthingy/carthingy/internal/history"
	"github.com/carthingy/carthingy/internal/notifier"
	"github.com/carthingy/carthingy/internal/query/transport"
	"github.com/carthingy/carthingy/pkg/log"
	"github.com/carthingy/carthingy/pkg/options"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	QueryOptions    *options.QueryOptions
	CarStoreOptions *options.CarStoreOptions
	ReportOptions   *options.ReportOptions
	MqttOptions     *options.MqttOptions
	S3Options       *options.S3Options
	HistoryOptions  *options.HistoryOptions
	HttpOptions     *options.HttpOptions
	RefreshOptions  *options.RefreshOptions
}

// NewDialer connects to the query backend, or replays a recorded transcript when
// replayPath is set. The replay file is closed with its connection.
func (cfg *Config) NewDialer(replayPath string) (transport.Dialer, error) {
	if replayPath != "" {
		f, err := os.Open(replayPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		return transport.NewReplay(f), nil
	}

	d, err := transport.NewWebSocketDialer(transport.WebSocketConfig{
		URL:              cfg.QueryOptions.URL,
		Token:            cfg.QueryOptions.Token,
		HandshakeTimeout: cfg.QueryOptions.HandshakeTimeout,
		ReadTimeout:      cfg.QueryOptions.ReadTimeout,
	}, log.Std())
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (cfg *Config) NewCarStore() (*carstore.Client, error) {
	return carstore.New(carstore.Config{
		BaseURL: cfg.CarStoreOptions.BaseURL,
		Timeout: cfg.CarStoreOptions.Timeout,
	}, log.Std())
}

// NewHistory opens the history database, or returns nil when history is disabled.
func (cfg *Config) NewHistory() (*history.Store, error) {
	if cfg.HistoryOptions == nil || !cfg.HistoryOptions.Enabled {
		return nil, nil
	}
	return history.Open(cfg.HistoryOptions.Path)
}

// NewArchiver checks the bucket and returns an archiver for it.
func (cfg *Config) NewArchiver(ctx context.Context) (*archive.Archiver, error) {
	provider, err := archive.NewMinIOProvider(cfg.S3Options, log.Std())
	if err != nil {
		return nil, err
	}
	if err := provider.CheckBucket(ctx); err != nil {
		return nil, err
	}
	return archive.New(provider, cfg.S3Options.PresignExpiry, log.Std()), nil
}

// Services holds the collaborators of a command run.
type Services struct {
	CarStore *carstore.Client
	History  *history.Store
	Notifier *notifier.MQTTNotifier
	Reporter *Reporter
}

// NewServices builds the sinks selected by ReportOptions plus the history store.
// The MQTT connection lives until Close is called.
func (cfg *Config) NewServices(ctx context.Context) (_ *Services, err error) {
	s := &Services{}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if s.CarStore, err = cfg.NewCarStore(); err != nil {
		return nil, fmt.Errorf("failed to create car store client: %w", err)
	}
	if s.History, err = cfg.NewHistory(); err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	reporterOpts := []ReporterOption{WithReporterLogger(log.Std())}
	if s.History != nil {
		reporterOpts = append(reporterOpts, WithHistory(s.History))
	}
	if cfg.ReportOptions.Save {
		reporterOpts = append(reporterOpts, WithCarStore(s.CarStore))
	}
	if cfg.ReportOptions.Publish {
		if s.Notifier, err = notifier.NewMQTTNotifier(cfg.MqttOptions, log.Std()); err != nil {
			return nil, fmt.Errorf("failed to create notifier: %w", err)
		}
		if err = s.Notifier.Start(ctx); err != nil {
			return nil, err
		}
		reporterOpts = append(reporterOpts, WithPublisher(s.Notifier))
	}
	if cfg.ReportOptions.Archive {
		a, err := cfg.NewArchiver(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create archiver: %w", err)
		}
		reporterOpts = append(reporterOpts, WithArchiver(a))
	}

	s.Reporter = NewReporter(reporterOpts...)
	return s, nil
}

// Close releases everything NewServices opened.
func (s *Services) Close() {
	if s.Notifier != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		s.Notifier.Stop(ctx)
		cancel()
	}
	if s.History != nil {
		if err := s.History.Close(); err != nil {
			log.Warn("Failed to close history database", "error", err)
		}
	}
}
