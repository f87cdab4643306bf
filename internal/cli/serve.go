package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/agent-recall/internal/engine"
	"github.com/rcliao/agent-recall/internal/health"
	"github.com/rcliao/agent-recall/internal/metrics"
	"github.com/rcliao/agent-recall/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer JSON-line utterances from stdin",
		Long: "Reads {\"text\",\"session_id\",\"observation\",\"id\"} objects, one per line, and writes one\n" +
			"reply object per line to stdout. Turns of one session run in order; sessions run concurrently.\n" +
			"Also probes dependencies, runs scheduled pruning and serves /metrics when metrics.addr is set.",
		Run: runServe,
	}

	cmd.Flags().String("metrics-addr", "", "Listen address for /metrics (overrides metrics.addr)")
	cmd.Flags().StringP("session", "s", "default", "Session id for lines that carry none")

	RootCmd.AddCommand(cmd)
}

// serveRequest is one inbound line.
type serveRequest struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text"`
	SessionID   string `json:"session_id,omitempty"`
	Observation string `json:"observation,omitempty"`
}

// serveResponse is one outbound line.
type serveResponse struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	*engine.Reply
	Error string `json:"error,omitempty"`
}

type turnHandler interface {
	Handle(ctx context.Context, in engine.Input) (*engine.Reply, error)
}

func runServe(cmd *cobra.Command, args []string) {
	addr, _ := cmd.Flags().GetString("metrics-addr")
	defaultSession, _ := cmd.Flags().GetString("session")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}

	a, err := newApp()
	if err != nil {
		exitErr("start", err)
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := health.NewScheduler(logger)
	prober := health.NewProber(cfg.Health, health.WithSink(a.metrics), health.WithLogger(logger))
	if err := sched.AddProbe(cfg.Health.Interval, prober); err != nil {
		exitErr("schedule health", err)
	}
	if cfg.Maintenance.Schedule != "" {
		if err := sched.AddJob("prune", cfg.Maintenance.Schedule, pruneJob(a.store, a.metrics)); err != nil {
			exitErr("schedule prune", err)
		}
	}
	prober.Check(ctx)
	sched.Start()
	defer sched.Stop()

	if addr != "" {
		srv := metricsServer(addr, a.metrics)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", zap.String("addr", addr))
	}

	// A blocked stdin read does not observe ctx, so wait on both.
	done := make(chan error, 1)
	go func() { done <- serveLines(ctx, os.Stdin, os.Stdout, a.engine, defaultSession) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			exitErr("serve", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}
}

func metricsServer(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
}

func pruneJob(s *store.SQLiteStore, m *metrics.Metrics) func(context.Context) error {
	return func(ctx context.Context) error {
		res, err := s.PruneByAge(ctx, store.AgeParams{
			MaxAgeDays:    cfg.Maintenance.MaxAgeDays,
			MaxImportance: cfg.Maintenance.MaxImportance,
			Topics:        cfg.Maintenance.Topics,
		})
		if err != nil {
			return err
		}
		m.RecordPrune("age", res.Parents, res.Chunks)
		return nil
	}
}

// serveLines reads requests from r until EOF or ctx ends. Each session gets
// its own lane so its turns are answered in arrival order while other
// sessions proceed. Responses are written to w as they complete.
func serveLines(ctx context.Context, r io.Reader, w io.Writer, h turnHandler, defaultSession string) error {
	var (
		outMu sync.Mutex
		enc   = json.NewEncoder(w)
		lanes = make(map[string]chan serveRequest)
	)
	write := func(resp serveResponse) {
		outMu.Lock()
		defer outMu.Unlock()
		if err := enc.Encode(resp); err != nil {
			logger.Error("write reply", zap.Error(err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	lane := func(id string) chan serveRequest {
		if ch, ok := lanes[id]; ok {
			return ch
		}
		ch := make(chan serveRequest, 16)
		lanes[id] = ch
		g.Go(func() error {
			for req := range ch {
				reply, err := h.Handle(gctx, engine.Input{
					SessionID:   req.SessionID,
					Text:        req.Text,
					Observation: req.Observation,
				})
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					write(serveResponse{ID: req.ID, SessionID: req.SessionID, Error: err.Error()})
					continue
				}
				write(serveResponse{ID: req.ID, SessionID: req.SessionID, Reply: reply})
			}
			return nil
		})
		return ch
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var readErr error
read:
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var req serveRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			write(serveResponse{Error: fmt.Sprintf("parse request: %v", err)})
			continue
		}
		if req.SessionID == "" {
			req.SessionID = defaultSession
		}
		select {
		case lane(req.SessionID) <- req:
		case <-gctx.Done():
			break read
		}
	}
	if err := sc.Err(); err != nil {
		readErr = fmt.Errorf("read requests: %w", err)
	}
	for _, ch := range lanes {
		close(ch)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return readErr
}
