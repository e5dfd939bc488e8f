// Package metrics holds the Prometheus collectors shared by the episode
// environment, the scorer and the runner.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"threatbench/internal/logger"
)

var (
	// EnvSteps counts episode steps by outcome (query_ok, query_error, submit, budget).
	EnvSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatbench_env_steps_total",
		Help: "Episode steps by outcome",
	}, []string{"outcome"})

	// EnvQueryErrors counts failed agent queries by error kind.
	EnvQueryErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatbench_env_query_errors_total",
		Help: "Failed agent queries by error kind",
	}, []string{"kind"})

	// EpisodeReward records final episode rewards.
	EpisodeReward = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "threatbench_env_episode_reward",
		Help:    "Final reward per finished episode",
		Buckets: []float64{0, 0.064, 0.16, 0.4, 0.6, 0.8, 1},
	})

	// Evaluations counts scorer outcomes (correct, stepwise, wrong, parse_failed, oracle_failed).
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "threatbench_scorer_evaluations_total",
		Help: "Scorer evaluations by outcome",
	}, []string{"outcome"})

	// EvaluationDuration tracks scorer latency including oracle calls.
	EvaluationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "threatbench_scorer_evaluation_duration_seconds",
		Help:    "Scorer evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	// SinkErrors counts failed trajectory writes.
	SinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "threatbench_trajectory_sink_errors_total",
		Help: "Trajectory records that could not be written",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Infof("Metrics listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
