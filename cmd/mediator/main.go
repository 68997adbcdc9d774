// Command mediator runs the remote-screen-sharing mediator server
// (spec §2) and an operator REPL (SPEC_FULL.md §4.12) on stdin.
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/coregx/relay/config"
	"github.com/coregx/relay/dashboard"
	"github.com/coregx/relay/mediator"
	"github.com/coregx/relay/metrics"
	"github.com/coregx/relay/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mediator:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration file")
	listenAddr := flag.String("listen", ":8443", "listen address, used when -config is not given or sets no listen_addr")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := mediator.DefaultConfig()
	addr := *listenAddr
	var metricsAddr string

	if *configPath != "" {
		fileCfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg, err = fileCfg.Mediator()
		if err != nil {
			return err
		}
		if fileCfg.ListenAddr != "" {
			addr = fileCfg.ListenAddr
		}
		metricsAddr = fileCfg.MetricsAddr
	}

	reg := metrics.New()
	creds := store.NewMemoryStore()
	srv := mediator.NewServer(cfg, creds, log, reg)

	events := dashboard.NewEventFeed()
	defer events.Close()
	srv.SetEventSink(events)

	status := dashboard.NewStatusHub(srv, 2*time.Second)
	defer status.Close()

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		mux.Handle("/dashboard/events", events)
		mux.Handle("/dashboard/status", status)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("mediator: dashboard listener stopped")
			}
		}()
		log.Info().Str("addr", metricsAddr).Msg("mediator: metrics and dashboard endpoints up")
	}

	listener, err := listen(addr, cfg)
	if err != nil {
		return err
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(listener) }()

	if err := runREPL(srv, log); err != nil {
		return err
	}

	return <-serveErr
}

func listen(addr string, cfg mediator.Config) (net.Listener, error) {
	if cfg.TLSConfig != nil {
		return tlsListen(addr, cfg)
	}
	return net.Listen("tcp", addr)
}
