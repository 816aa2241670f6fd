// Package metrics 暴露 Prometheus 指标（/metrics）
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"church-recruit-backend/pkg/apperrors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome 标签值
const (
	OutcomeOK = "ok"
)

// Metrics 一组业务与 HTTP 指标，注册在自己的 Registry 上
type Metrics struct {
	Registry *prometheus.Registry

	Submissions       *prometheus.CounterVec
	LifecycleOps      *prometheus.CounterVec
	TxDuration        *prometheus.HistogramVec
	RateLimitDecision *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// Default 进程级指标
var Default = New(prometheus.NewRegistry())

// New 在 reg 上注册全部指标
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	m := &Metrics{
		Registry: reg,
		Submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_submissions_total",
				Help: "Application submissions by outcome",
			},
			[]string{"outcome"},
		),
		LifecycleOps: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_lifecycle_ops_total",
				Help: "Lookup, edit and withdraw operations by outcome",
			},
			[]string{"op", "outcome"},
		),
		TxDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "recruit_tx_duration_seconds",
				Help:    "Duration of store operations in seconds",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms ~ 4s
			},
			[]string{"op"},
		),
		RateLimitDecision: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "recruit_ratelimit_decisions_total",
				Help: "Rate limiter decisions",
			},
			[]string{"limiter", "decision"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests handled",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method", "route"},
		),
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	return m
}

// Handler 返回 /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// OutcomeOf 把错误映射为 outcome 标签（nil 为 "ok"，其余为小写错误码）
func OutcomeOf(err error) string {
	if err == nil {
		return OutcomeOK
	}
	return strings.ToLower(string(apperrors.CodeOf(err)))
}

// RecordSubmission 记录一次提交结果
func (m *Metrics) RecordSubmission(err error) {
	m.Submissions.WithLabelValues(OutcomeOf(err)).Inc()
}

// RecordLifecycle 记录查询/修改/撤回结果
func (m *Metrics) RecordLifecycle(op string, err error) {
	m.LifecycleOps.WithLabelValues(op, OutcomeOf(err)).Inc()
}

// ObserveTx 记录存储操作耗时
func (m *Metrics) ObserveTx(op string, d time.Duration) {
	if d <= 0 {
		d = time.Millisecond
	}
	m.TxDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordRateLimit 记录限流判定；decision 为 allowed/denied/error
func (m *Metrics) RecordRateLimit(limiter, decision string) {
	m.RateLimitDecision.WithLabelValues(limiter, decision).Inc()
}

// ObserveHTTP 记录一次 HTTP 请求
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	method = strings.ToUpper(method)
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
