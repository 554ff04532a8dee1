package metricsfx

import (
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/xenbak/xenbakd/pkg/http/handler"
)

func PrometheusRegistry() (*prometheus.Registry, prometheus.Registerer, prometheus.Gatherer) {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return registry, registry, registry
}

func JobRunsHandler(logger *logrus.Logger, repository handler.JobRunRepository) *handler.JobRunsHandler {
	return handler.NewJobRunsHandler(logger, repository)
}

func JobRunHistoryHandler(logger *logrus.Logger, repository handler.JobRunRepository) *handler.JobRunHistoryHandler {
	return handler.NewJobRunHistoryHandler(logger, repository)
}

func RegisterHandlers(
	router *mux.Router,
	gatherer prometheus.Gatherer,
	jobRuns *handler.JobRunsHandler,
	jobRunHistory *handler.JobRunHistoryHandler,
) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Handle("/metrics/jobs", jobRuns)
	router.Handle("/metrics/jobs/history", jobRunHistory)
}
