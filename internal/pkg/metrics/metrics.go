package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deploy_server"

var histogramBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60, 300, 900}

var (
	once sync.Once

	deployResults   *prometheus.CounterVec
	deployDuration  *prometheus.HistogramVec
	stagePercent    *prometheus.GaugeVec
	serviceRestarts *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
)

func initMetrics() {
	once.Do(func() {
		deployResults = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploy_results_total",
			Help:      "Number of pipeline outcomes per repository",
		}, []string{"repo", "type", "result"})

		deployDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deploy_duration_seconds",
			Help:      "Duration of deploy pipelines including rollback",
			Buckets:   histogramBuckets,
		}, []string{"repo", "type"})

		stagePercent = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deploy_stage_percent",
			Help:      "Progress of the running pipeline",
		}, []string{"repo"})

		serviceRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_restarts_total",
			Help:      "Supervisor restarts per repository",
		}, []string{"repo", "result"})

		httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		deployResults = register(deployResults).(*prometheus.CounterVec)
		deployDuration = register(deployDuration).(*prometheus.HistogramVec)
		stagePercent = register(stagePercent).(*prometheus.GaugeVec)
		serviceRestarts = register(serviceRestarts).(*prometheus.CounterVec)
		httpRequests = register(httpRequests).(*prometheus.CounterVec)
	})
}

func register(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
	}
	return c
}

// ObserveOutcome 记录一次审计结果
func ObserveOutcome(repo, typ, result string) {
	initMetrics()
	deployResults.WithLabelValues(repo, typ, result).Inc()
}

// ObserveDuration 记录流水线耗时
func ObserveDuration(repo, typ string, d time.Duration) {
	initMetrics()
	deployDuration.WithLabelValues(repo, typ).Observe(d.Seconds())
}

// SetStage 记录当前进度
func SetStage(repo string, percent int) {
	initMetrics()
	stagePercent.WithLabelValues(repo).Set(float64(percent))
}

// ObserveRestart 记录一次服务重启
func ObserveRestart(repo string, ok bool) {
	initMetrics()
	result := "success"
	if !ok {
		result = "fail"
	}
	serviceRestarts.WithLabelValues(repo, result).Inc()
}

// ObserveRequest 记录 HTTP 请求
func ObserveRequest(method, route string, status int) {
	initMetrics()
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Handler prometheus 抓取入口
func Handler() http.Handler {
	initMetrics()
	return promhttp.Handler()
}
