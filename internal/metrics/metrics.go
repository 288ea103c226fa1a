// Registers:
//
//	#dexflow_module_init_total{network,result}
//	#dexflow_module_state{network,state}
//	#dexflow_price_refresh_total{key,result}
//	#dexflow_price_refresh_seconds{key}
//	#dexflow_price_source_total{source,result}
//	#dexflow_dispatch_total{network,action,result}
//	#dexflow_tradefeed_rows{result}
//	#go_* and process_* system metrics
//
// Serve exposes them on the configured address under /metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dexflow/logger"
)

var moduleStates = []string{"idle", "loading", "loaded", "error"}

var (
	once          sync.Once
	moduleInit    *prometheus.CounterVec
	moduleState   *prometheus.GaugeVec
	priceRefresh  *prometheus.CounterVec
	priceLatency  *prometheus.HistogramVec
	sourceFetch   *prometheus.CounterVec
	dispatchTotal *prometheus.CounterVec
	tradefeedRows *prometheus.CounterVec
)

func Init() {
	once.Do(func() {
		moduleInit = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexflow_module_init_total",
				Help: "Network module initialisations by result",
			},
			[]string{"network", "result"},
		)
		moduleState = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dexflow_module_state",
				Help: "1 for the current lifecycle state of each network module",
			},
			[]string{"network", "state"},
		)
		priceRefresh = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexflow_price_refresh_total",
				Help: "Price cache refreshes by key and result",
			},
			[]string{"key", "result"},
		)
		priceLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dexflow_price_refresh_seconds",
				Help:    "Duration of price cache refreshes",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"key"},
		)
		sourceFetch = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexflow_price_source_total",
				Help: "Upstream price source fetches by result",
			},
			[]string{"source", "result"},
		)
		dispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexflow_dispatch_total",
				Help: "Business actions routed to network modules",
			},
			[]string{"network", "action", "result"},
		)
		tradefeedRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dexflow_tradefeed_rows_total",
				Help: "Trade feed rows aggregated by result",
			},
			[]string{"result"},
		)

		for _, c := range []prometheus.Collector{
			moduleInit, moduleState, priceRefresh, priceLatency, sourceFetch, dispatchTotal, tradefeedRows,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		} {
			if err := prometheus.Register(c); err != nil {
				var are prometheus.AlreadyRegisteredError
				if !errors.As(err, &are) {
					logger.GetLogger().WithComponent("metrics").WithError(err).Warn("failed to register collector")
				}
			}
		}
	})
}

// Handler serves the registered collectors in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve runs a dedicated /metrics listener on addr until it fails.
func Serve(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.GetLogger().WithComponent("metrics").WithError(err).Error("metrics server stopped")
		}
	}()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordModuleInit counts one finished module initialisation.
func RecordModuleInit(network string, err error) {
	if moduleInit != nil {
		moduleInit.WithLabelValues(network, result(err)).Inc()
	}
	EmitMetric(nil, "registry", "module_init", 1, "counter", logger.Fields{FieldNetwork: network, FieldResult: result(err)})
}

// SetModuleState marks state as the only active state of network.
func SetModuleState(network, state string) {
	if moduleState == nil {
		return
	}
	for _, s := range moduleStates {
		v := 0.0
		if s == state {
			v = 1
		}
		moduleState.WithLabelValues(network, s).Set(v)
	}
}

// RecordPriceRefresh counts one cache refresh of key.
func RecordPriceRefresh(key string, err error, took time.Duration) {
	if priceRefresh != nil {
		priceRefresh.WithLabelValues(key, result(err)).Inc()
	}
	if priceLatency != nil {
		priceLatency.WithLabelValues(key).Observe(took.Seconds())
	}
	EmitMetric(nil, "pricecache", "price_refresh_ms", took.Milliseconds(), "gauge", logger.Fields{"key": key, FieldResult: result(err), "unit": "ms"})
}

// RecordSourceFetch counts one upstream fetch of source.
func RecordSourceFetch(source string, err error) {
	if sourceFetch != nil {
		sourceFetch.WithLabelValues(source, result(err)).Inc()
	}
	EmitMetric(nil, "oracle", "source_fetch", 1, "counter", logger.Fields{"source": source, FieldResult: result(err)})
}

// RecordDispatch counts one business action routed to network.
func RecordDispatch(network, action string, err error) {
	if dispatchTotal != nil {
		dispatchTotal.WithLabelValues(network, action, result(err)).Inc()
	}
	EmitMetric(nil, "registry", "dispatch", 1, "counter", logger.Fields{
		FieldNetwork: network,
		FieldAction:  action,
		FieldResult:  result(err),
	})
}

// RecordFeedAggregation counts aggregated and rejected trade feed rows.
func RecordFeedAggregation(ok, failed int) {
	if tradefeedRows == nil {
		return
	}
	tradefeedRows.WithLabelValues("success").Add(float64(ok))
	tradefeedRows.WithLabelValues("error").Add(float64(failed))
}
