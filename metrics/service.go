package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/galacticcouncil/gen3-unbond-fix/log"
)

const (
	moduleName = "metrics"
	pushJob    = "unbond_fix"
)

// PullService is a service that supports the Prometheus pull method.
type PullService struct {
	server *http.Server
	logger *log.Logger
}

// NewPullService creates a new Prometheus pull service.
func NewPullService(pullEndpoint string, logger *log.Logger) *PullService {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	return &PullService{
		server: &http.Server{
			Addr:           pullEndpoint,
			Handler:        r,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		logger: logger.WithModule(moduleName),
	}
}

// StartInstrumentation starts the pull metrics service in the background.
// It stops when ctx is done.
func (s *PullService) StartInstrumentation(ctx context.Context) {
	s.logger.Info("initializing pull metrics service", "listen_addr", s.server.Addr)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("unable to serve prometheus metrics", "listen_addr", s.server.Addr, "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
}

// Push sends all registered metrics to a pushgateway, grouped by command and
// run id. A one-shot run is usually over before a scraper ever sees it.
func Push(ctx context.Context, endpoint string, command string, runID string) error {
	return push.New(endpoint, pushJob).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("command", command).
		Grouping("run_id", runID).
		PushContext(ctx)
}
