package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder 收集问答流程与入库的指标，实现 rag.Recorder
type Recorder struct {
	stageLatency   *prometheus.HistogramVec
	gatewayLatency *prometheus.HistogramVec
	gatewayErrors  *prometheus.CounterVec
	routes         *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	answers        *prometheus.CounterVec
	ingestedChunks prometheus.Counter
}

// New 创建 Recorder 并注册到 reg；reg 为 nil 时不注册（测试或未开启 /metrics 时）
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		stageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_stage_latency_ms",
			Help:    "Latency of answer pipeline stages in milliseconds",
			Buckets: []float64{1, 5, 25, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"stage"}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_gateway_latency_ms",
			Help:    "Latency of retrieval and language model calls in milliseconds",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"gateway", "stage"}),
		gatewayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_gateway_errors_total",
			Help: "Failed retrieval and language model calls",
		}, []string{"gateway", "stage"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_route_decision_total",
			Help: "Routing decisions taken after the document answer",
		}, []string{"target"}),
		degraded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_stage_degraded_total",
			Help: "Stages that fell back to a degraded result",
		}, []string{"stage"}),
		answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_answers_total",
			Help: "Completed answer passes by outcome",
		}, []string{"outcome"}),
		ingestedChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_ingested_chunks_total",
			Help: "Chunks written to the vector store",
		}),
	}
	if reg != nil {
		reg.MustRegister(r.Collectors()...)
	}
	return r
}

// Collectors 暴露全部 collector，便于调用方注册到自定义 registry
func (r *Recorder) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		r.stageLatency, r.gatewayLatency, r.gatewayErrors, r.routes, r.degraded, r.answers, r.ingestedChunks,
	}
}

func (r *Recorder) ObserveStage(stage string, start time.Time) {
	r.stageLatency.WithLabelValues(stage).Observe(float64(time.Since(start).Milliseconds()))
}

func (r *Recorder) ObserveGatewayCall(gateway, stage string, start time.Time, err error) {
	r.gatewayLatency.WithLabelValues(gateway, stage).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		r.gatewayErrors.WithLabelValues(gateway, stage).Inc()
	}
}

func (r *Recorder) IncRoute(target string) {
	r.routes.WithLabelValues(target).Inc()
}

func (r *Recorder) IncDegraded(stage string) {
	r.degraded.WithLabelValues(stage).Inc()
}

// IncAnswer 记录一次完整问答的结果：success、degraded 或 critical
func (r *Recorder) IncAnswer(outcome string) {
	r.answers.WithLabelValues(outcome).Inc()
}

func (r *Recorder) AddIngestedChunks(n int) {
	if n > 0 {
		r.ingestedChunks.Add(float64(n))
	}
}

// Handler 返回 gatherer 的 /metrics 处理器
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
