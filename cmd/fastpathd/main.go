// Command fastpathd serves a document root through the fastpath static
// file handler, optionally exposing Prometheus metrics on a second
// listener.
package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Elettrotecnica/naviserver/internal/config"
	"github.com/Elettrotecnica/naviserver/internal/fastpath"
	"github.com/Elettrotecnica/naviserver/internal/netutil"
	"github.com/Elettrotecnica/naviserver/internal/reactor"
)

// shutdownDrain bounds how long an in-flight request gets to finish writing
// once a shutdown signal arrives.
const shutdownDrain = 10 * time.Second

var (
	configPath    string
	listenAddr    string
	metricsAddr   string
	serverSection string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fastpathd",
		Short: "Serves static files through the fastpath handler",
		RunE:  run,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the INI configuration document")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "address to serve fastpath requests on")
	cmd.Flags().StringVar(&metricsAddr, "metrics-listen", "", "optional address to serve /metrics on")
	cmd.Flags().StringVar(&serverSection, "server", "default", "server name used to resolve ns/server/<name>/fastpath.* keys")
	return cmd
}

func run(cmd *cobra.Command, _ []string) error {
	store, err := loadStore()
	if err != nil {
		return err
	}

	cfg := fastpathConfigFromStore(store, serverSection)
	handler, err := fastpath.NewHandler(cfg)
	if err != nil {
		return fmt.Errorf("building fastpath handler: %w", err)
	}

	// The socket reactor owns the signal-to-shutdown control path: a
	// self-pipe fed by os/signal is registered with it like any other
	// descriptor, and its callback drives both the fastpath handler's
	// drain flag and the HTTP server's graceful Shutdown.
	re, err := reactor.New()
	if err != nil {
		return fmt.Errorf("starting socket reactor: %w", err)
	}
	go re.Run()

	sigPipe, err := netutil.NewSelfPipe()
	if err != nil {
		return fmt.Errorf("opening signal pipe: %w", err)
	}

	srv := &http.Server{Addr: listenAddr, Handler: handler}

	err = re.Register(sigPipe.ReadFD(), reactor.EventRead, func(int, reactor.EventMask) bool {
		sigPipe.Drain()
		logrus.Info("fastpathd: shutdown signal received, draining in-flight requests")
		handler.BeginShutdown()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownDrain)
		defer cancel()
		if shutdownErr := srv.Shutdown(ctx); shutdownErr != nil {
			logrus.WithError(shutdownErr).Warn("fastpathd: graceful shutdown did not complete cleanly")
		}
		return false
	})
	if err != nil {
		return fmt.Errorf("registering shutdown signal handler: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		sigPipe.Wake()
	}()

	if metricsAddr != "" {
		go serveMetrics(metricsAddr)
	}

	logrus.WithFields(logrus.Fields{
		"addr":     listenAddr,
		"pageroot": cfg.PageRoot,
		"cache":    cfg.CacheEnabled,
		"mmap":     cfg.MMapEnabled,
	}).Info("fastpathd listening")

	serveErr := srv.ListenAndServe()

	re.BeginShutdown()
	re.AwaitShutdown()
	sigPipe.Close()

	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		return serveErr
	}
	return nil
}

func loadStore() (*config.Store, error) {
	if configPath == "" {
		return config.NewStore(), nil
	}
	store, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}
	return store, nil
}

func serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	logrus.WithField("addr", addr).Info("metrics listening")
	if err := http.ListenAndServe(addr, r); err != nil {
		logrus.WithError(err).Error("metrics listener stopped")
	}
}

func fastpathConfigFromStore(store *config.Store, server string) fastpath.Config {
	serverSectionName := "ns/server/" + server + "/fastpath"

	pageRoot, ok := store.Get(serverSectionName, "pageroot")
	if !ok || pageRoot == "" {
		pageRoot = "."
	}

	dirFiles := []string{"index.html"}
	if v, ok := store.Get(serverSectionName, "directoryfile"); ok && v != "" {
		dirFiles = strings.Fields(v)
	}

	return fastpath.Config{
		PageRoot:       pageRoot,
		DirectoryIndex: dirFiles,
		MMapEnabled:    store.GetBoolDefault("ns/fastpath", "mmap", false),
		CacheEnabled:   store.GetBoolDefault("ns/fastpath", "cache", false),
		CacheMaxSize:   int64(store.GetIntRange("ns/fastpath", "cachemaxsize", 10*1024*1024, 1024, math.MaxInt32)),
		CacheMaxEntry:  int64(store.GetIntRange("ns/fastpath", "cachemaxentry", 8192, 8, math.MaxInt32)),
	}
}
