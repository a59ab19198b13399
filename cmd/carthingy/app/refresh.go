package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/carthingy/carthingy/cmd/carthingy/app/options"
	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/internal/notifier"
	"github.com/carthingy/carthingy/internal/refresher"
	"github.com/carthingy/carthingy/internal/server"
	"github.com/carthingy/carthingy/pkg/log"
)

func newRefreshCommand(opts *options.Options) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Re-query every stored car on --refresh.schedule",
		Long: `Re-query every car in the car storage service as a known car, one session
at a time. Combine with --report.save to keep stored cars up to date.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			dialer, err := cfg.NewDialer("")
			if err != nil {
				return err
			}
			runner := carthingy.NewRunner(dialer, services.Reporter, opts.QueryOptions.Timeout, log.Std())
			r := refresher.New(services.CarStore, runner, opts.RefreshOptions, log.Std())

			if once {
				sum, err := r.RunOnce(ctx)
				if perr := newPrinter(cmd, opts).printSummary(sum); perr != nil {
					return perr
				}
				return err
			}

			m := server.NewManager(log.Std(), r)
			if opts.HttpOptions.Enabled {
				m.Add(newHTTPServer(opts, services, runner.Session().Snapshot))
			}
			return m.Start(ctx)
		},
	}
	cmd.Flags().BoolVar(&once, "once", once, "Run one refresh immediately and exit.")
	return cmd
}

func newFollowCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "follow",
		Short: "Print vehicle records published by any carthingy client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := genericapiserver.SetupSignalContext()

			n, err := notifier.NewMQTTNotifier(opts.MqttOptions, log.Std())
			if err != nil {
				return err
			}
			if err := n.Start(ctx); err != nil {
				return err
			}
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				n.Stop(stopCtx)
			}()

			p := newPrinter(cmd, opts)
			var mu sync.Mutex
			if err := n.FollowRecords(ctx, func(m notifier.RecordMessage) {
				mu.Lock()
				defer mu.Unlock()
				if err := p.printRecordMessage(m); err != nil {
					log.Error(err, "Failed to print record")
				}
			}); err != nil {
				return err
			}

			<-ctx.Done()
			return nil
		},
	}
}
