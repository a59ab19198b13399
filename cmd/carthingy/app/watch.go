package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/carthingy/carthingy/cmd/carthingy/app/options"
	"github.com/carthingy/carthingy/internal/carthingy"
	"github.com/carthingy/carthingy/internal/query/model"
	"github.com/carthingy/carthingy/internal/query/session"
	"github.com/carthingy/carthingy/internal/server"
	"github.com/carthingy/carthingy/pkg/log"
)

const watchHelp = `Each input line starts one query:

  ABC-123                 look up a new car by plate
  known ABC-123           refresh a stored car
  text Toyota Corolla     free-text lookup
  quit                    leave watch mode

While watching, /healthz, /readyz, /metrics and /api/v1/session are served on --http.addr.`

func newWatchCommand(opts *options.Options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Read queries from stdin and run them one at a time",
		Long:  watchHelp,
		Args:  cobra.NoArgs,
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

			observers := []session.Observer{&progressWriter{out: cmd.ErrOrStderr()}}
			if services.Notifier != nil {
				observers = append(observers, services.Notifier)
			}

			m := server.NewManager(log.Std())
			m.Add(&repl{
				in:        cmd.InOrStdin(),
				out:       cmd.OutOrStdout(),
				errOut:    cmd.ErrOrStderr(),
				prompt:    term.IsTerminal(int(os.Stdin.Fd())),
				runner:    runner,
				printer:   newPrinter(cmd, opts),
				observers: observers,
			})
			if opts.HttpOptions.Enabled {
				m.Add(newHTTPServer(opts, services, runner.Session().Snapshot))
			}
			return m.Start(ctx)
		},
	}
}

func newHTTPServer(opts *options.Options, services *carthingy.Services, snapshot server.SnapshotFunc) *server.HTTPServer {
	srv := server.NewHTTPServer(opts.HttpOptions, log.Std())
	if snapshot != nil {
		srv.SetSnapshotFunc(snapshot)
	}
	if n := services.Notifier; n != nil {
		srv.AddReadinessCheck("mqtt", func(context.Context) error {
			if !n.Connected() {
				return errors.New("broker connection down")
			}
			return nil
		})
	}
	return srv
}

type queryRunner interface {
	Run(ctx context.Context, q model.Query, observers ...session.Observer) (session.Snapshot, carthingy.Report, error)
	Session() *session.Session
}

// repl reads one query per line until EOF, "quit" or ctx is done.
type repl struct {
	in        io.Reader
	out       io.Writer
	errOut    io.Writer
	prompt    bool
	runner    queryRunner
	printer   printer
	observers []session.Observer
}

func (r *repl) Start(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		var err error
		defer func() {
			scanErr <- err
			close(lines)
		}()
		sc := bufio.NewScanner(r.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		err = sc.Err()
	}()

	for {
		if r.prompt {
			fmt.Fprint(r.out, "carthingy> ")
		}

		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			line = l
		}

		q, quit, err := parseWatchLine(line)
		switch {
		case quit:
			return nil
		case err != nil:
			fmt.Fprintln(r.errOut, err)
			continue
		case q.Identifier == "":
			continue
		}

		snap, rep, err := r.runner.Run(ctx, q, r.observers...)
		if snap.SessionID != "" {
			if perr := r.printer.printSession(snap, rep); perr != nil {
				return perr
			}
		}
		if snap.Alert != nil {
			fmt.Fprintf(r.errOut, "%s: %s\n", snap.Alert.Title, snap.Alert.Message)
			r.runner.Session().DismissAlert()
		} else if err != nil {
			fmt.Fprintln(r.errOut, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

var errUsage = errors.New(`expected "PLATE", "known PLATE", "text DESCRIPTION" or "quit"`)

// parseWatchLine turns one input line into a query. An empty query means nothing to do.
func parseWatchLine(line string) (q model.Query, quit bool, err error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return q, false, nil
	}

	switch strings.ToLower(fields[0]) {
	case "quit", "exit":
		return q, true, nil
	case "known":
		if len(fields) != 2 {
			return q, false, errUsage
		}
		return model.Query{Identifier: fields[1], Known: true}, false, nil
	case "text":
		if len(fields) < 2 {
			return q, false, errUsage
		}
		return model.Query{Identifier: strings.Join(fields[1:], " "), FreeText: true}, false, nil
	}

	if len(fields) != 1 {
		return q, false, errUsage
	}
	return model.Query{Identifier: fields[0]}, false, nil
}
