// zetiand is the SMTP server daemon: it loads a YAML configuration file,
// wires together the protocol engine, relay queue, delivery engine and
// antispam pipeline, and serves connections until told to stop.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blitiri.com.ar/go/log"

	"github.com/Taiizor/Zetian-sub004/internal/antispam"
	"github.com/Taiizor/Zetian-sub004/internal/antispam/checkers"
	"github.com/Taiizor/Zetian-sub004/internal/auth"
	"github.com/Taiizor/Zetian-sub004/internal/config"
	"github.com/Taiizor/Zetian-sub004/internal/connmgr"
	"github.com/Taiizor/Zetian-sub004/internal/events"
	"github.com/Taiizor/Zetian-sub004/internal/filter"
	"github.com/Taiizor/Zetian-sub004/internal/message"
	"github.com/Taiizor/Zetian-sub004/internal/relay"
	"github.com/Taiizor/Zetian-sub004/internal/session"
	"github.com/Taiizor/Zetian-sub004/internal/set"
	"github.com/Taiizor/Zetian-sub004/internal/store"
)

var (
	configPath = flag.String("config", "/etc/zetiand/zetiand.yaml",
		"path to the YAML configuration file")
	dataDir = flag.String("data_dir", "/var/lib/zetiand",
		"directory for the relay queue and other persistent state")
	mdaBinary = flag.String("mda_binary", "",
		"local delivery agent binary (e.g. procmail); local delivery is "+
			"disabled if empty")
	authFile = flag.String("auth_file", "",
		"path to a bcrypt \"user:hash\" account file; AUTH is disabled "+
			"for unmatched domains if empty")
	showVer = flag.Bool("version", false, "show version and exit")
)

var version = "undefined"

func main() {
	flag.Parse()
	log.Init()

	if *showVer {
		fmt.Printf("zetiand %s\n", version)
		return
	}

	rand.Seed(time.Now().UnixNano())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("error loading config: %v", err)
	}

	deps, err := buildDeps(cfg)
	if err != nil {
		log.Fatalf("error wiring server: %v", err)
	}

	queue, err := relay.NewQueue(*dataDir+"/queue", 100000)
	if err != nil {
		log.Fatalf("error opening relay queue: %v", err)
	}
	if err := queue.Load(); err != nil {
		log.Fatalf("error loading relay queue: %v", err)
	}

	resolver, err := relay.NewDNSResolver()
	if err != nil {
		log.Fatalf("error initializing DNS resolver: %v", err)
	}

	deliverer := &relay.Deliverer{
		HelloDomain:       cfg.Hostname,
		Resolver:          resolver,
		ConnectionTimeout: cfg.Relay.ConnectionTimeout,
		EnableTLS:         cfg.Relay.EnableTLS,
		RequireTLS:        cfg.Relay.RequireTLS,
		UseMxRouting:      cfg.Relay.UseMxRouting,
		DefaultSmartHost:  cfg.Relay.DefaultSmartHost,
		SmartHosts:        cfg.Relay.SmartHosts,
		DomainRouting:     cfg.Relay.DomainRouting,
		Events:            deps.Events,
	}
	engine := &relay.Engine{
		Queue:                   queue,
		Deliverer:               deliverer,
		Events:                  deps.Events,
		BounceFrom:              cfg.Relay.BounceSender,
		OurDomain:               cfg.Hostname,
		MaxConcurrentDeliveries: cfg.Relay.MaxConcurrentDeliveries,
		MessageLifetime:         cfg.Relay.MessageLifetime,
		MaxAttempts:             cfg.Relay.MaxRetryCount,
		EnableBounce:            cfg.Relay.EnableBounce,
	}
	deps.Relay = &queueEnqueuer{queue}

	engineCtx, stopEngine := context.WithCancel(context.Background())
	go engine.Run(engineCtx)

	mgr := connmgr.New(deps, cfg)

	var listeners []connmgr.Listener
	for _, addr := range cfg.Ports {
		listeners = append(listeners, connmgr.Listener{Addr: addr})
	}
	for _, addr := range cfg.ImplicitTLSPorts {
		listeners = append(listeners, connmgr.Listener{Addr: addr, ImplicitTLS: true})
	}
	if len(listeners) == 0 {
		log.Fatalf("no listen addresses configured")
	}

	go signalHandler()

	log.Infof("zetiand starting (version %s), listening on %d address(es)",
		version, len(listeners))

	errCh := make(chan error, 1)
	go func() { errCh <- mgr.ListenAndServe(listeners) }()

	shutdownSig := make(chan os.Signal, 1)
	signal.Notify(shutdownSig, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-shutdownSig:
		log.Infof("received %v, shutting down", sig)
	case err := <-errCh:
		log.Errorf("listener error: %v", err)
	}

	stopEngine()

	ctx, cancel := context.WithTimeout(context.Background(), mgr.DrainTimeout)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		log.Errorf("error during shutdown: %v", err)
	}
}

// buildDeps constructs the session.Deps shared by every accepted
// connection: TLS material, local-domain set, auth, filter chain and
// antispam pipeline, all derived from cfg.
func buildDeps(cfg *config.Config) (*session.Deps, error) {
	deps := &session.Deps{
		Hostname:              cfg.Hostname,
		Config:                cfg,
		Authr:                 auth.NewAuthenticator(),
		Events:                events.New(),
		LocalDomains:          set.NewString(append([]string{"localhost"}, cfg.Relay.LocalDomains...)...),
		RequireAuthentication: cfg.RequireAuthentication,
	}

	if *authFile != "" {
		be, err := auth.NewBcryptFileBackend(*authFile)
		if err != nil {
			return nil, fmt.Errorf("loading auth file: %w", err)
		}
		deps.Authr.Fallback = be
	}

	if cfg.CertFile != "" && cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS cert/key: %w", err)
		}
		deps.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	deps.Filter = filter.NewAllFilter(
		filter.NewSize(cfg.MaxMessageSize),
	)

	if *mdaBinary != "" {
		deps.Store = store.NewMDAStore(*mdaBinary, "%to_user%")
	}

	ensemble := checkers.BuildDefaultEnsemble(cfg.AntiSpam)
	spam := antispam.NewPipeline(cfg.AntiSpam.Thresholds, ensemble...)
	spam.CheckerTimeout = cfg.AntiSpam.CheckerTimeout
	deps.Spam = spam

	return deps, nil
}

// queueEnqueuer adapts *relay.Queue to session.Enqueuer: the relay
// package's own Priority type is numerically identical to
// message.Priority (Low/Normal/High/Urgent in the same order), so the
// conversion is a plain cast.
type queueEnqueuer struct {
	queue *relay.Queue
}

func (q *queueEnqueuer) Enqueue(from string, to []string, raw []byte, priority message.Priority) error {
	_, err := q.queue.Enqueue(from, to, raw, relay.Priority(priority))
	return err
}

func signalHandler() {
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	for range sighup {
		if err := log.Default.Reopen(); err != nil {
			log.Errorf("error reopening log: %v", err)
		}
	}
}
