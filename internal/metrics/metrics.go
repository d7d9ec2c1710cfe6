// Package metrics holds the Prometheus collectors for the Hydrolink poller.
//
// A Collector is created per process and registered once. Every method is
// safe to call on a nil *Collector so components can run without metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hydrolink"

// Outcome labels.
const (
	ResultSuccess   = "success"
	ResultFailure   = "failure"
	ResultRejected  = "rejected"
	ResultMalformed = "malformed"
	ResultRetried   = "retried"
)

type Collector struct {
	Logins        *prometheus.CounterVec
	Fetches       *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	RefreshCycles *prometheus.CounterVec
	Devices       prometheus.Gauge
	Generation    prometheus.Gauge
	LastSuccess   prometheus.Gauge
	MeterValue    *prometheus.GaugeVec
	GRPCRequests  *prometheus.CounterVec
	GRPCLatency   *prometheus.HistogramVec
}

func NewCollector() *Collector {
	return &Collector{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts against the Hydrolink API by result",
		}, []string{"result"}),
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "meter_data_fetches_total",
			Help:      "Meter data requests by result",
		}, []string{"result"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "meter_data_fetch_duration_seconds",
			Help:      "Duration of meter data requests",
			Buckets:   prometheus.DefBuckets,
		}),
		RefreshCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_cycles_total",
			Help:      "Completed refresh cycles by result",
		}, []string{"result"}),
		Devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meters",
			Help:      "Meters in the latest dataset",
		}),
		Generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dataset_generation",
			Help:      "Generation of the dataset currently held",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last successful refresh cycle",
		}),
		MeterValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "meter_latest_value_liters",
			Help:      "Latest reported value per meter",
		}, []string{"meter", "warm"}),
		GRPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC requests by method",
		}, []string{"method"}),
		GRPCLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC request latency by method",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}
}

// Register adds every collector to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{
		c.Logins, c.Fetches, c.FetchDuration, c.RefreshCycles, c.Devices,
		c.Generation, c.LastSuccess, c.MeterValue, c.GRPCRequests, c.GRPCLatency,
	} {
		if err := reg.Register(col); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) ObserveLogin(result string) {
	if c == nil {
		return
	}
	c.Logins.WithLabelValues(result).Inc()
}

func (c *Collector) ObserveFetch(result string, duration time.Duration) {
	if c == nil {
		return
	}
	c.Fetches.WithLabelValues(result).Inc()
	c.FetchDuration.Observe(duration.Seconds())
}

func (c *Collector) ObserveCycle(result string, at time.Time) {
	if c == nil {
		return
	}
	c.RefreshCycles.WithLabelValues(result).Inc()
	if result != ResultFailure {
		c.LastSuccess.Set(float64(at.Unix()))
	}
}

// ObserveDataset records the size and generation of a newly stored dataset.
func (c *Collector) ObserveDataset(generation uint64, devices int) {
	if c == nil {
		return
	}
	c.Generation.Set(float64(generation))
	c.Devices.Set(float64(devices))
}

func (c *Collector) ObserveMeter(id string, warm bool, value int64) {
	if c == nil {
		return
	}
	c.MeterValue.WithLabelValues(id, strconv.FormatBool(warm)).Set(float64(value))
}
