// Package refresher re-queries every stored car on a cron schedule.
package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carthingy/carthingy/internal/carstore"
	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/pkg/log"
	"github.com/carthingy/carthingy/pkg/options"
)

// CarLister lists the cars to refresh.
type CarLister interface {
	List(ctx context.Context) ([]carstore.Car, error)
}

// QueryRunner runs one query to its end.
type QueryRunner interface {
	Run(ctx context.Context, q model.Query, observers ...session.Observer) (session.Snapshot, carthingy.Report, error)
}

// Result is the outcome for one car.
type Result struct {
	Plate string      `json:"plate" yaml:"plate"`
	Phase model.Phase `json:"phase" yaml:"phase"`
	Error string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Summary is the outcome of one refresh run.
type Summary struct {
	Started   time.Time `json:"started" yaml:"started"`
	Completed int       `json:"completed" yaml:"completed"`
	Failed    int       `json:"failed" yaml:"failed"`
	Results   []Result  `json:"results" yaml:"results"`
}

type Refresher struct {
	cars     CarLister
	runner   QueryRunner
	schedule string
	pause    time.Duration
	logger   log.Logger
}

func New(cars CarLister, runner QueryRunner, opts *options.RefreshOptions, logger log.Logger) *Refresher {
	if logger == nil {
		logger = log.Std()
	}
	return &Refresher{
		cars:     cars,
		runner:   runner,
		schedule: opts.Schedule,
		pause:    opts.Pause,
		logger:   logger.WithName("refresher"),
	}
}

// RunOnce queries every stored car as a known car, one session at a time.
// A failing car does not stop the run; a cancelled ctx does.
func (r *Refresher) RunOnce(ctx context.Context) (Summary, error) {
	sum := Summary{Started: time.Now().UTC()}

	cars, err := r.cars.List(ctx)
	if err != nil {
		return sum, fmt.Errorf("refresher: list cars: %w", err)
	}
	r.logger.Info("Refresh run started", "cars", len(cars))

	for i, car := range cars {
		if i > 0 && r.pause > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(r.pause):
			}
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		snap, _, err := r.runner.Run(ctx, model.Query{Identifier: car.LicensePlate, Known: true})
		res := Result{Plate: car.LicensePlate, Phase: snap.State.Phase}
		if err != nil {
			res.Error = err.Error()
		}
		if snap.State.Phase == model.PhaseCompleted {
			sum.Completed++
		} else {
			sum.Failed++
			r.logger.Warn("Refresh failed", log.Plate(car.LicensePlate), "phase", snap.State.Phase, "error", res.Error)
		}
		sum.Results = append(sum.Results, res)
	}

	r.logger.Info("Refresh run finished", "completed", sum.Completed, "failed", sum.Failed)
	return sum, nil
}

// Start runs RunOnce on the schedule until ctx is done. A run still in progress
// when the next one is due makes the next one skip.
func (r *Refresher) Start(ctx context.Context) error {
	cl := log.CronLogger(r.logger)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(r.schedule, func() {
		if _, err := r.RunOnce(ctx); err != nil {
			r.logger.Error(err, "Refresh run aborted")
		}
	}); err != nil {
		return fmt.Errorf("refresher: invalid schedule %q: %w", r.schedule, err)
	}

	c.Start()
	r.logger.Info("Refresh scheduler started", "schedule", r.schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	r.logger.Info("Refresh scheduler stopped")
	return nil
}
