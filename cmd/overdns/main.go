package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/raven-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"overdns/internal/log"
	"overdns/internal/meta"
	"overdns/internal/metrics"
	"overdns/internal/network"
	"overdns/internal/protocol"
	"overdns/internal/rules"
)

// hooks groups the metrics hooks shared by every component.
type hooks struct {
	sessionLifecycle metrics.SessionLifecycleHook
	clientCxIO       metrics.ConnectionIOHook
	upstreamCxIO     metrics.ConnectionIOHook
	resolver         metrics.ResolverHook

	// closers release statsd clients, flushing their buffered metrics.
	closers []io.Closer
}

// close releases every closable hook, returning the combined error.
func (h *hooks) close() error {
	var err error
	for _, closer := range h.closers {
		err = multierr.Append(err, closer.Close())
	}

	return err
}

func main() {
	configPath := flag.String(
		"config",
		os.Getenv("OVERDNS_CONFIG"),
		"path to the configuration file on disk",
	)
	version := flag.Bool(
		"version",
		false,
		"print the compiled overdns version SHA",
	)
	verbosity := flag.String(
		"verbosity",
		"error",
		"desired logging verbosity: one of error, warn, info, debug",
	)
	flag.Parse()

	// Report the compiled version and exit
	if *version {
		fmt.Printf("overdns/%s\n", meta.VersionSHA)
		return
	}

	// Parse application configuration
	config, err := meta.ParseConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "main: invalid configuration: path=%s err=%v\n", *configPath, err)
		os.Exit(1)
	}

	// Logging configuration; default to log.Error verbosity
	level, _ := log.ParseLevel(*verbosity)
	logger, err := log.NewZapLogger(level, config.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "main: error initializing logger: err=%v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Debug("main: initialized logger: level=%v format=%s", level, config.Log.Format)

	if err := run(config, logger); err != nil {
		logger.Error("main: %v", err)
		logger.Sync()
		os.Exit(1)
	}
}

// run wires every component from config and serves until SIGINT or SIGTERM.
func run(config *meta.Config, logger *log.ZapLogger) error {
	// Load the rule table; malformed lines are skipped
	logger.Debug("main: loading rules: path=%s", config.Rules.Path)
	table, err := rules.Load(config.Rules.Path)
	if table == nil {
		return err
	}

	if err != nil {
		logger.Warn("main: skipped malformed rule lines: path=%s err=%v", config.Rules.Path, err)
	}

	logger.Info("main: loaded rule table: path=%s rules=%d", config.Rules.Path, table.Len())

	// Configure error reporting
	if config.Application != nil && config.Application.SentryDSN != "" {
		if err := raven.SetDSN(config.Application.SentryDSN); err != nil {
			return fmt.Errorf("error configuring sentry: err=%v", err)
		}

		raven.SetRelease(meta.VersionSHA)
	}

	// Configure metrics reporting
	h, registry, err := configureMetrics(config, logger)
	if err != nil {
		return err
	}

	// Configure upstreams
	var servers []network.Client
	for _, server := range config.Upstream.Servers {
		opts := network.UDPClientOpts{
			ConnectTimeout: server.ConnectTimeout,
			ReadTimeout:    server.ReadTimeout,
			WriteTimeout:   server.WriteTimeout,
		}

		client, err := network.NewUDPClient(server.Address, h.sessionLifecycle, h.upstreamCxIO, opts)
		if err != nil {
			return err
		}

		logger.Info("main: configured upstream server: client=%v", client)

		servers = append(servers, client)
	}

	// Create sharded client for all upstreams
	lbPolicy := config.LoadBalancingPolicy()
	logger.Debug("main: using load balancing policy for upstream selection: policy=%s", lbPolicy)

	upstream, err := network.NewShardedClient(servers, lbPolicy)
	if err != nil {
		return err
	}

	// Configure the request router
	router := &protocol.DNSRouterHandler{
		Rules:          table,
		ClientCxIOHook: h.clientCxIO,
		ResolverHook:   h.resolver,
		Logger:         logger,
		Opts: protocol.DNSRouterOpts{
			NoMatchLevel: *config.Log.NoMatchLevel,
		},
	}
	router.Forwarder = protocol.NewForwarder(upstream, h.resolver, logger, protocol.ForwarderOpts{
		MaxSessions:  config.Listener.UDP.MaxForwardSessions,
		ErrorHandler: router.ConsumeError,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)

	logger.Info(
		"main: configuring UDP server listener: addr=%s max_forward_sessions=%d",
		config.Listener.UDP.Address,
		config.Listener.UDP.MaxForwardSessions,
	)

	udpServer := network.NewUDPServer(config.Listener.UDP.Address, network.UDPServerOpts{
		BufferSize: config.Listener.UDP.BufferSize,
	})

	group.Go(func() error {
		return udpServer.ListenAndServe(ctx, router)
	})

	if registry != nil {
		prom := config.Metrics.Prometheus

		mux := http.NewServeMux()
		mux.Handle(prom.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		httpServer := &http.Server{
			Addr:              prom.Address,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		logger.Info("main: serving prometheus metrics: addr=%s path=%s", prom.Address, prom.Path)

		group.Go(func() error {
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("error serving prometheus metrics: err=%v", err)
			}

			return nil
		})

		group.Go(func() error {
			<-ctx.Done()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			return httpServer.Shutdown(shutdownCtx)
		})
	}

	logger.Info("main: serving until interrupted")

	err = group.Wait()

	// Pending forwards are expired by the cancelled context
	router.Forwarder.Wait()

	if closeErr := h.close(); closeErr != nil {
		logger.Warn("main: error flushing metrics: err=%v", closeErr)
	}

	logger.Info("main: shut down: upstream_stats=%+v", upstream.Stats())

	return err
}

// configureMetrics creates the metrics hooks requested in config. The returned registry is nil
// unless Prometheus metrics are enabled.
func configureMetrics(config *meta.Config, logger log.Logger) (*hooks, *prometheus.Registry, error) {
	h := &hooks{
		sessionLifecycle: metrics.NewNoopSessionLifecycleHook(),
		clientCxIO:       metrics.NewNoopConnectionIOHook(),
		upstreamCxIO:     metrics.NewNoopConnectionIOHook(),
		resolver:         metrics.NewNoopResolverHook(),
	}

	if config.Metrics == nil || (config.Metrics.Statsd == nil && config.Metrics.Prometheus == nil) {
		logger.Warn("main: no metrics output engine specified; disabling metrics")
		return h, nil, nil
	}

	var sessionLifecycle metrics.MultiSessionLifecycleHook
	var clientCxIO, upstreamCxIO metrics.MultiConnectionIOHook
	var resolver metrics.MultiResolverHook

	if statsd := config.Metrics.Statsd; statsd != nil {
		logger.Info(
			"main: configuring statsd metrics reporting: addr=%s sample_rate=%f",
			statsd.Address,
			statsd.SampleRate,
		)

		sessionHook, err := metrics.NewAsyncStatsdSessionLifecycleHook(
			"upstream",
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		)
		if err != nil {
			return nil, nil, err
		}

		clientIOHook, err := metrics.NewAsyncStatsdConnectionIOHook(
			"client",
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		)
		if err != nil {
			return nil, nil, err
		}

		upstreamIOHook, err := metrics.NewAsyncStatsdConnectionIOHook(
			"upstream",
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		)
		if err != nil {
			return nil, nil, err
		}

		resolverHook, err := metrics.NewAsyncStatsdResolverHook(
			statsd.Address,
			statsd.SampleRate,
			meta.VersionSHA,
		)
		if err != nil {
			return nil, nil, err
		}

		sessionLifecycle = append(sessionLifecycle, sessionHook)
		clientCxIO = append(clientCxIO, clientIOHook)
		upstreamCxIO = append(upstreamCxIO, upstreamIOHook)
		resolver = append(resolver, resolverHook)

		for _, hook := range []interface{}{sessionHook, clientIOHook, upstreamIOHook, resolverHook} {
			if closer, ok := hook.(io.Closer); ok {
				h.closers = append(h.closers, closer)
			}
		}
	}

	var registry *prometheus.Registry

	if config.Metrics.Prometheus != nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		prom, err := metrics.NewPrometheusCollectors(registry)
		if err != nil {
			return nil, nil, err
		}

		sessionLifecycle = append(sessionLifecycle, prom.SessionLifecycleHook())
		clientCxIO = append(clientCxIO, prom.ConnectionIOHook("client"))
		upstreamCxIO = append(upstreamCxIO, prom.ConnectionIOHook("upstream"))
		resolver = append(resolver, prom.ResolverHook())
	}

	h.sessionLifecycle = sessionLifecycle
	h.clientCxIO = clientCxIO
	h.upstreamCxIO = upstreamCxIO
	h.resolver = resolver

	return h, registry, nil
}
