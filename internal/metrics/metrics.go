// Package metrics exposes the Prometheus collectors for the GIS server.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var msBuckets = []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 20000}

var (
	UploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gis_uploads_total",
		Help: "Shapefile uploads by outcome",
	}, []string{"status"})
	StageDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gis_stage_duration_ms",
		Help:    "Pipeline stage duration in milliseconds",
		Buckets: msBuckets,
	}, []string{"stage"})
	FeaturesLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gis_features_loaded",
		Help: "Features held in the catalogue",
	})
	LayersLoaded = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gis_layers_loaded",
		Help: "Layers held in the catalogue",
	})
	FilterMatches = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "gis_filter_matches",
		Help:    "Features matched per filter request",
		Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
	})
	ExportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gis_exports_total",
		Help: "Exports by format and outcome",
	}, []string{"format", "status"})
	TileCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gis_tile_cache_hits_total",
		Help: "Total tile cache hits",
	})
	TileCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gis_tile_cache_misses_total",
		Help: "Total tile cache misses",
	})
	WatchEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gis_watch_events_total",
		Help: "Watch directory reloads by action",
	}, []string{"action"})
)

func init() {
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(StageDurationMs)
	prometheus.MustRegister(FeaturesLoaded)
	prometheus.MustRegister(LayersLoaded)
	prometheus.MustRegister(FilterMatches)
	prometheus.MustRegister(ExportsTotal)
	prometheus.MustRegister(TileCacheHitsTotal)
	prometheus.MustRegister(TileCacheMissesTotal)
	prometheus.MustRegister(WatchEventsTotal)
}

// ObserveCatalogue updates the catalogue gauges.
func ObserveCatalogue(layers, features int) {
	LayersLoaded.Set(float64(layers))
	FeaturesLoaded.Set(float64(features))
}

func Handler() http.Handler { return promhttp.Handler() }
