package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/carthingy/carthingy/cmd/carthingy/app/options"
	"github.com/carthingy/carthingy/internal/carstore"
	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/pkg/app"
	"github.com/carthingy/carthingy/pkg/log"
)

const (
	commandName = "carthingy"
	commandDesc = `carthingy looks up vehicles by license plate or free text against a
streaming vehicle registry backend. Results arrive progressively and can be
saved to the car storage service, published over MQTT and archived to S3.`
)

func NewApp() *app.App {
	opts := options.NewOptions()
	return app.NewApp(
		commandName,
		"Query vehicle registries and manage stored cars",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithLogOptions(opts.Log),
		app.WithSubCommands(
			newQueryCommand(opts),
			newWatchCommand(opts),
			newFollowCommand(opts),
			newCarsCommand(opts),
			newBrandsCommand(opts),
			newHistoryCommand(opts),
			newRefreshCommand(opts),
		),
		app.WithConfigWatch(nil),
	)
}

func newPrinter(cmd *cobra.Command, opts *options.Options) printer {
	return printer{out: cmd.OutOrStdout(), format: opts.Output}
}

func newQueryCommand(opts *options.Options) *cobra.Command {
	var (
		known    bool
		freeText bool
		replay   string
		quiet    bool
	)
	cmd := &cobra.Command{
		Use:   "query PLATE|TEXT...",
		Short: "Run one vehicle query and print the record",
		Example: `  carthingy query ABC-123
  carthingy query --known ABC-123 --report.save
  carthingy query --text Toyota Corolla 2011
  carthingy query --replay session.txt ABC123`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := genericapiserver.SetupSignalContext()

			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			services, err := cfg.NewServices(ctx)
			if err != nil {
				return err
			}
			defer services.Close()

			dialer, err := cfg.NewDialer(replay)
			if err != nil {
				return err
			}
			runner := carthingy.NewRunner(dialer, services.Reporter, opts.QueryOptions.Timeout, log.Std())

			var observers []session.Observer
			if !quiet {
				observers = append(observers, &progressWriter{out: cmd.ErrOrStderr()})
			}
			if services.Notifier != nil {
				observers = append(observers, services.Notifier)
			}

			q := model.Query{Identifier: strings.Join(args, " "), Known: known, FreeText: freeText}
			snap, rep, runErr := runner.Run(ctx, q, observers...)
			if snap.SessionID != "" {
				if err := newPrinter(cmd, opts).printSession(snap, rep); err != nil {
					return err
				}
			}
			if snap.Alert != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", snap.Alert.Title, snap.Alert.Message)
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&known, "known", known, "The car is already stored; update it instead of creating a new one.")
	cmd.Flags().BoolVar(&freeText, "text", freeText, "Treat the arguments as a free-text description instead of a plate.")
	cmd.Flags().StringVar(&replay, "replay", replay, "Replay a recorded backend transcript instead of connecting.")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", quiet, "Do not print progress while the query runs.")
	return cmd
}

func newCarsCommand(opts *options.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cars",
		Short: "Manage cars in the car storage service",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored cars",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCarStore(opts, func(ctx context.Context, cs carStore) error {
				cars, err := cs.List(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd, opts).printCars(cars)
			})
		},
	}

	get := &cobra.Command{
		Use:   "get PLATE",
		Short: "Show one stored car",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCarStore(opts, func(ctx context.Context, cs carStore) error {
				car, err := cs.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return newPrinter(cmd, opts).printCars([]carstore.Car{car})
			})
		},
	}

	del := &cobra.Command{
		Use:     "delete PLATE",
		Aliases: []string{"rm"},
		Short:   "Delete a stored car",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCarStore(opts, func(ctx context.Context, cs carStore) error {
				if err := cs.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", model.NormalizePlate(args[0]))
				return nil
			})
		},
	}

	cmd.AddCommand(list, get, newCarsSaveCommand(opts), del)
	return cmd
}

func newCarsSaveCommand(opts *options.Options) *cobra.Command {
	var (
		car      carstore.Car
		oldPlate string
		isNew    bool
	)
	cmd := &cobra.Command{
		Use:   "save PLATE",
		Short: "Create a car, or update it with --old-plate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCarStore(opts, func(ctx context.Context, cs carStore) error {
				car.LicensePlate = model.NormalizePlate(args[0])
				car.IsNew = carstore.Flag(isNew)
				if car.BrandID == 0 && car.Brand != "" {
					brands, err := cs.Brands(ctx)
					if err != nil {
						return err
					}
					id, ok := carstore.LookupBrand(brands, car.Brand)
					if !ok {
						return fmt.Errorf("unknown brand %q, see 'carthingy brands'", car.Brand)
					}
					car.BrandID = id
				}

				var err error
				if oldPlate != "" {
					err = cs.Update(ctx, oldPlate, car)
				} else {
					err = cs.Create(ctx, car)
				}
				if err != nil {
					return err
				}
				return newPrinter(cmd, opts).printCars([]carstore.Car{car})
			})
		},
	}
	cmd.Flags().StringVar(&car.Brand, "brand", "", "Brand name, resolved against the brand list.")
	cmd.Flags().IntVar(&car.BrandID, "brand-id", 0, "Brand ID; takes precedence over --brand.")
	cmd.Flags().StringVar(&car.Model, "model", "", "Model name.")
	cmd.Flags().StringVar(&car.Codename, "codename", "", "Manufacturer type code.")
	cmd.Flags().IntVar(&car.Year, "year", 0, "Model year.")
	cmd.Flags().StringVar(&car.Comment, "comment", "", "Free-form comment.")
	cmd.Flags().BoolVar(&isNew, "new", false, "Mark the car as not yet queried.")
	cmd.Flags().StringVar(&oldPlate, "old-plate", "", "Update the car currently stored under this plate.")
	return cmd
}

func newBrandsCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "brands",
		Short: "List the brands known to the car storage service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCarStore(opts, func(ctx context.Context, cs carStore) error {
				brands, err := cs.Brands(ctx)
				if err != nil {
					return err
				}
				return newPrinter(cmd, opts).printBrands(brands)
			})
		},
	}
}

func newHistoryCommand(opts *options.Options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [PLATE]",
		Short: "List finished sessions from the local history",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.Config()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			store, err := cfg.NewHistory()
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("history is disabled, enable it with --history.enabled")
			}
			defer store.Close()

			var plate string
			if len(args) == 1 {
				plate = args[0]
			}
			entries, err := store.List(cmd.Context(), plate, limit)
			if err != nil {
				return err
			}
			return newPrinter(cmd, opts).printHistory(entries)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list (0 lists all).")
	return cmd
}

type carStore interface {
	List(ctx context.Context) ([]carstore.Car, error)
	Get(ctx context.Context, plate string) (carstore.Car, error)
	Create(ctx context.Context, car carstore.Car) error
	Update(ctx context.Context, oldPlate string, car carstore.Car) error
	Delete(ctx context.Context, plate string) error
	Brands(ctx context.Context) ([]carstore.Brand, error)
}

// withCarStore runs fn with a car store client and a context cancelled on SIGINT or SIGTERM.
func withCarStore(opts *options.Options, fn func(ctx context.Context, cs carStore) error) error {
	ctx := genericapiserver.SetupSignalContext()

	cfg, err := opts.Config()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cs, err := cfg.NewCarStore()
	if err != nil {
		return err
	}
	return fn(ctx, cs)
}
