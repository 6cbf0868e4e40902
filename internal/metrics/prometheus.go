package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// PrometheusHandler serves the collector's registry in the Prometheus
// exposition format.
func PrometheusHandler(collector *Collector) http.Handler {
	return promhttp.HandlerFor(collector.registry, promhttp.HandlerOpts{
		ErrorLog:      promLogger{},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promLogger adapts zerolog to promhttp.Logger.
type promLogger struct{}

func (promLogger) Println(v ...interface{}) {
	log.Error().Interface("details", v).Msg("prometheus exposition error")
}
