package carthingy

import (
	"context"
	"errors"
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/carthingy/carthingy/internal/archive"
	"github.com/carthingy/carthingy/internal/carstore"
	"github.com/carthingy/carthingy/internal/pkg/metrics"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/pkg/log"
)

// defaultBrandID is used when the reported brand is not in the car store's brand list.
const defaultBrandID = 1

var errNoPlate = errors.New("record has no license plate")

// CarStore is the part of the car storage client the reporter writes through.
type CarStore interface {
	Brands(ctx context.Context) ([]carstore.Brand, error)
	Create(ctx context.Context, car carstore.Car) error
	Update(ctx context.Context, oldPlate string, car carstore.Car) error
}

// RecordPublisher publishes completed records.
type RecordPublisher interface {
	PublishRecord(ctx context.Context, snap session.Snapshot) (string, error)
}

// RecordArchiver stores completed records.
type RecordArchiver interface {
	Archive(ctx context.Context, snap session.Snapshot) (archive.Result, error)
}

// HistoryStore keeps finished sessions.
type HistoryStore interface {
	Save(ctx context.Context, snap session.Snapshot) error
}

// Report tells where a finished session was delivered.
type Report struct {
	Car     *carstore.Car   `json:"car,omitempty" yaml:"car,omitempty"`
	Topic   string          `json:"topic,omitempty" yaml:"topic,omitempty"`
	Archive *archive.Result `json:"archive,omitempty" yaml:"archive,omitempty"`
	History bool            `json:"history" yaml:"history"`
}

// Reporter hands finished sessions to the configured sinks. Nil sinks are skipped.
type Reporter struct {
	cars      CarStore
	publisher RecordPublisher
	archiver  RecordArchiver
	history   HistoryStore
	logger    log.Logger
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithCarStore saves completed records as cars.
func WithCarStore(c CarStore) ReporterOption { return func(r *Reporter) { r.cars = c } }
func WithPublisher(p RecordPublisher) ReporterOption { return func(r *Reporter) { r.publisher = p } }
func WithArchiver(a RecordArchiver) ReporterOption { return func(r *Reporter) { r.archiver = a } }
func WithHistory(h HistoryStore) ReporterOption { return func(r *Reporter) { r.history = h } }
func WithReporterLogger(l log.Logger) ReporterOption { return func(r *Reporter) { r.logger = l } }

// NewReporter returns a Reporter with the given sinks.
func NewReporter(opts ...ReporterOption) *Reporter {
	r := &Reporter{logger: log.Std()}
	for _, o := range opts {
		o(r)
	}
	r.logger = r.logger.WithName("reporter")
	return r
}

// Report delivers snap. Every finished session goes to history; only completed
// ones reach the car store, the broker and the archive. Sink failures do not stop
// the other sinks and are returned together.
func (r *Reporter) Report(ctx context.Context, snap session.Snapshot) (Report, error) {
	var (
		rep  Report
		errs []error
	)
	if !snap.State.Phase.IsTerminal() {
		return rep, fmt.Errorf("session %s is still %s", snap.SessionID, snap.State.Phase)
	}
	logger := r.logger.WithValues(log.Session(snap.SessionID))

	if r.history != nil {
		if err := r.history.Save(ctx, snap); err != nil {
			errs = append(errs, r.failed("history", err))
		} else {
			rep.History = true
			metrics.ReportsTotal.WithLabelValues("history", "ok").Inc()
		}
	}

	if snap.State.Phase != model.PhaseCompleted {
		return rep, utilerrors.NewAggregate(errs)
	}

	if r.cars != nil {
		car, err := r.saveCar(ctx, snap)
		if err != nil {
			errs = append(errs, r.failed("carstore", err))
		} else {
			rep.Car = &car
			metrics.ReportsTotal.WithLabelValues("carstore", "ok").Inc()
			logger.Info("Saved car", log.Plate(car.LicensePlate), "new", bool(car.IsNew))
		}
	}

	if r.publisher != nil {
		t, err := r.publisher.PublishRecord(ctx, snap)
		if err != nil {
			errs = append(errs, err)
		} else {
			rep.Topic = t
		}
	}

	if r.archiver != nil {
		res, err := r.archiver.Archive(ctx, snap)
		if err != nil {
			errs = append(errs, r.failed("archive", err))
		} else {
			rep.Archive = &res
			metrics.ReportsTotal.WithLabelValues("archive", "ok").Inc()
		}
	}

	return rep, utilerrors.NewAggregate(errs)
}

func (r *Reporter) failed(sink string, err error) error {
	metrics.ReportsTotal.WithLabelValues(sink, "error").Inc()
	return fmt.Errorf("%s: %w", sink, err)
}

// saveCar updates a known car under the plate it was queried with, or creates a new one.
func (r *Reporter) saveCar(ctx context.Context, snap session.Snapshot) (carstore.Car, error) {
	car := carstore.FromRecord(snap.Record, snap.Query.Known)
	if car.LicensePlate == "" && !snap.Query.FreeText {
		car.LicensePlate = model.NormalizePlate(snap.Query.Identifier)
	}
	if car.LicensePlate == "" {
		return car, errNoPlate
	}

	car.BrandID = defaultBrandID
	if car.Brand != "" {
		brands, err := r.cars.Brands(ctx)
		if err != nil {
			return car, err
		}
		if id, ok := carstore.LookupBrand(brands, car.Brand); ok {
			car.BrandID = id
		} else {
			r.logger.Warn("Brand not known to the car store, using default", "brand", car.Brand)
		}
	}

	if snap.Query.Known && !snap.Query.FreeText {
		return car, r.cars.Update(ctx, snap.Query.Identifier, car)
	}
	return car, r.cars.Create(ctx, car)
}
