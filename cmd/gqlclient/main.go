package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hanpama/gqlink/internal/config"
	"github.com/hanpama/gqlink/internal/errorlink"
	"github.com/hanpama/gqlink/internal/eventbus"
	"github.com/hanpama/gqlink/internal/httplink"
	"github.com/hanpama/gqlink/internal/language"
	"github.com/hanpama/gqlink/internal/link"
	"github.com/hanpama/gqlink/internal/logging"
	"github.com/hanpama/gqlink/internal/metrics"
	"github.com/hanpama/gqlink/internal/observable"
	"github.com/hanpama/gqlink/internal/opid"
	"github.com/hanpama/gqlink/internal/otel"
	"github.com/hanpama/gqlink/internal/wslink"
)

const rootLong = `gqlclient runs GraphQL operations against a server.

Queries and mutations are sent over HTTP, subscriptions over WebSocket
(graphql-transport-ws). GraphQL errors are logged and the results are still
printed; network failures end the command with a non-zero exit status.

Every flag can also be set with a GQLCLIENT_ environment variable, e.g.
GQLCLIENT_WS_ENDPOINT for --ws.endpoint, or in the file given by --config.`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "gqlclient:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	root, err := newRootCmd(stdin, stdout, stderr)
	if err != nil {
		return err
	}
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) (*cobra.Command, error) {
	v := config.New()
	root := &cobra.Command{
		Use:           "gqlclient",
		Short:         "GraphQL client for queries, mutations and subscriptions",
		Long:          rootLong,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := config.RegisterFlags(v, root.PersistentFlags()); err != nil {
		return nil, err
	}

	root.AddCommand(
		newOperationCmd(v, "query", "Run a query or mutation over HTTP", false),
		newOperationCmd(v, "subscribe", "Run a subscription over WebSocket until it completes or is interrupted", true),
	)
	return root, nil
}

// operationFlags are the per-command flags describing the operation to run.
type operationFlags struct {
	query         string
	file          string
	variables     string
	operationName string
}

func newOperationCmd(v *viper.Viper, use, short string, subscription bool) *cobra.Command {
	var f operationFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runOperation(cmd, v, f, subscription)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.query, "query", "q", "", "Operation document")
	fs.StringVarP(&f.file, "file", "f", "", `Read the operation document from a file ("-" for stdin)`)
	fs.StringVar(&f.variables, "variables", "", "Variables as a JSON object")
	fs.StringVar(&f.operationName, "operation-name", "", "Operation to run when the document has several")
	cmd.MarkFlagsMutuallyExclusive("query", "file")
	cmd.MarkFlagsOneRequired("query", "file")
	return cmd
}

func runOperation(cmd *cobra.Command, v *viper.Viper, f operationFlags, subscription bool) error {
	cfg, err := config.Load(v)
	if err != nil {
		return err
	}
	logger, err := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}

	src, err := f.source(cmd.InOrStdin())
	if err != nil {
		return err
	}
	typ, name, err := language.OperationInfo(src, f.operationName)
	if err != nil {
		return err
	}
	switch {
	case subscription && typ != language.Subscription:
		return fmt.Errorf("operation %q is a %s; use the query command", name, typ)
	case !subscription && typ == language.Subscription:
		return fmt.Errorf("operation %q is a subscription; use the subscribe command", name)
	}
	vars, err := parseVariables(f.variables)
	if err != nil {
		return err
	}

	cleanup, err := setupObservability(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, id := opid.NewContext(cmd.Context())
	op := link.NewOperation(ctx, src,
		link.WithOperationName(f.operationName),
		link.WithVariables(vars),
	)
	logger.WithFields(logrus.Fields{
		"operation": name,
		"type":      typ,
		"opid":      id,
	}).Debug("executing operation")
	return printResults(ctx, link.Execute(newChain(cfg, logger), op), cmd.OutOrStdout(), cfg.Pretty)
}

func (f operationFlags) source(stdin io.Reader) (string, error) {
	switch f.file {
	case "":
		return f.query, nil
	case "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	default:
		b, err := os.ReadFile(f.file)
		if err != nil {
			return "", fmt.Errorf("read operation: %w", err)
		}
		return string(b), nil
	}
}

func parseVariables(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var vars map[string]any
	if err := json.Unmarshal([]byte(s), &vars); err != nil {
		return nil, fmt.Errorf("--variables must be a JSON object: %w", err)
	}
	return vars, nil
}

// newChain builds errorlink -> split(subscription ? ws : http).
func newChain(cfg *config.Config, logger logrus.FieldLogger) link.Link {
	var (
		httpOpts []httplink.Option
		wsOpts   []wslink.Option
	)
	for name, values := range cfg.Header {
		for _, value := range values {
			httpOpts = append(httpOpts, httplink.WithHeader(name, value))
			wsOpts = append(wsOpts, wslink.WithHeader(name, value))
		}
	}
	if cfg.Timeout > 0 {
		httpOpts = append(httpOpts, httplink.WithTimeout(cfg.Timeout))
	}

	onError := errorlink.OnError(errorlink.Handlers(
		errorlink.LogHandler(logger),
		errorlink.PublishHandler(),
	))
	return link.From(
		onError,
		link.Split(link.IsSubscription,
			wslink.New(cfg.WSEndpoint, wsOpts...),
			httplink.New(cfg.Endpoint, httpOpts...),
		),
	)
}

// printResults writes each result as one JSON document and waits for the
// stream to end. Cancelling ctx unsubscribes and is not an error.
func printResults(ctx context.Context, obs *observable.Observable[*link.Result], out io.Writer, pretty bool) error {
	enc := json.NewEncoder(out)
	if pretty {
		enc.SetIndent("", "  ")
	}
	done := make(chan error, 1)
	finish := func(err error) {
		select {
		case done <- err:
		default:
		}
	}
	sub := obs.Subscribe(observable.Funcs[*link.Result]{
		OnNext: func(res *link.Result) {
			if err := enc.Encode(res); err != nil {
				finish(fmt.Errorf("write result: %w", err))
			}
		},
		OnError:    finish,
		OnComplete: func() { finish(nil) },
	})
	defer sub.Unsubscribe()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return nil
	}
}

// setupObservability installs the event bus, tracing and the metrics
// endpoint configured in cfg.
func setupObservability(cfg *config.Config, logger logrus.FieldLogger) (func(), error) {
	eventbus.Use(eventbus.New())
	shutdown, err := otel.Setup(cfg.OTelEndpoint, cfg.OTelService)
	if err != nil {
		return nil, fmt.Errorf("otel setup: %w", err)
	}
	cleanups := []func(){func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			logger.WithError(err).Warn("otel shutdown")
		}
	}}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m, err := metrics.New(reg)
		if err != nil {
			return nil, err
		}
		cleanups = append(cleanups, m.Register())

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("metrics server")
			}
		}()
		logger.WithField("addr", cfg.MetricsAddr).Info("metrics listening")
		cleanups = append(cleanups, func() { _ = srv.Close() })
	}

	return func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
		eventbus.Use(nil)
	}, nil
}
