// Package server composes the ESP server binary: one or more shards
// (internal/server.Shard) supervised together, plus the metrics HTTP
// endpoint, under a single errgroup so any one failure brings the whole
// process down cleanly.
//
// Grounded in the teacher's source/server/server.go composition
// (constructing the session table, starting listen()/updateLoop()/
// sessionCleanupLoop() as a group of goroutines under one Server), with
// the goroutine supervision itself upgraded from bare `go` statements to
// golang.org/x/sync/errgroup the way
// _examples/facebook-time/fbclock/daemon/daemon.go supervises its
// worker goroutines.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/serialx/hashring"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/metrics"
)

// Server owns every shard plus the metrics HTTP endpoint.
type Server struct {
	cfg     *config.ServerConfig
	log     *logrus.Entry
	metrics *metrics.Collector
	shards  []*Shard

	// ring assigns a diagnostic shard label to a peer address for log
	// correlation across shards' independent listener sockets. It does
	// not route packets: the kernel's SO_REUSEPORT hashing, not this
	// ring, decides which shard's socket actually receives a given
	// peer's datagrams. serialx/hashring has no call-site precedent
	// anywhere in the retrieval pack (it appears only as an indirect
	// go.mod entry), so this wiring is authored directly from the
	// library's public API — see DESIGN.md.
	ring *hashring.HashRing
}

// New builds a Server with cfg.Shards independent shard listeners, all
// bound to cfg.Listen via SO_REUSEPORT.
func New(cfg *config.ServerConfig, log *logrus.Entry) (*Server, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	mc := metrics.NewCollector(prometheus.DefaultRegisterer)

	shardNames := make([]string, 0, cfg.Shards)
	for i := 0; i < cfg.Shards; i++ {
		shardNames = append(shardNames, fmt.Sprintf("shard-%d", i))
	}
	ring := hashring.New(shardNames)
	shardFor := func(peerAddr string) string {
		label, ok := ring.GetNode(peerAddr)
		if !ok {
			return "unknown"
		}
		return label
	}

	shards := make([]*Shard, 0, cfg.Shards)
	for i := 0; i < cfg.Shards; i++ {
		conn, err := listenReusePort(cfg.Listen)
		if err != nil {
			for _, s := range shards {
				s.conn.Close()
			}
			return nil, fmt.Errorf("server: bring up shard %d: %w", i, err)
		}
		shards = append(shards, newShard(i, conn, cfg, mc, log, shardFor))
	}

	return &Server{
		cfg:     cfg,
		log:     log,
		metrics: mc,
		shards:  shards,
		ring:    ring,
	}, nil
}

// ShardFor returns the diagnostic shard label a peer address hashes to,
// for log/metric correlation only (see the Server.ring doc comment). Each
// Shard calls the same lookup (via the shardFor closure passed to
// newShard) to tag its own drop logging.
func (s *Server) ShardFor(peerAddr string) string {
	label, ok := s.ring.GetNode(peerAddr)
	if !ok {
		return "unknown"
	}
	return label
}

// Run starts every shard plus the metrics HTTP server and blocks until
// ctx is canceled or cfg.Duration has elapsed (spec §4.9/§5's "duration"
// graceful-termination parameter), then shuts everything down and
// returns the aggregated error, if any.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if s.cfg.Duration > 0 {
		go func() {
			select {
			case <-time.After(s.cfg.Duration):
				s.log.WithField("duration", s.cfg.Duration).Info("graceful shutdown: duration elapsed")
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, shard := range s.shards {
		shard := shard
		g.Go(func() error { return shard.run(gctx) })
	}

	var metricsSrv *http.Server
	if s.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(s.cfg.Metrics.Path, promhttp.Handler())
		metricsSrv = &http.Server{Addr: s.cfg.Metrics.Listen, Handler: mux}
		g.Go(func() error {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server: metrics endpoint: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()

	var closeErr error
	for _, shard := range s.shards {
		closeErr = multierr.Append(closeErr, shard.conn.Close())
	}

	return multierr.Append(err, closeErr)
}
