// Package metrics 定义服务的 Prometheus 指标，通过 /metrics 暴露。
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "reminsight"

var (
	// predictions 按版本、运行时与结果统计的预测行数
	predictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "predict",
		Name:      "rows_total",
		Help:      "Total predicted rows",
	}, []string{"version", "runtime", "status"})

	// predictLatency 单次请求（一个批次）的端到端耗时
	predictLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "predict",
		Name:      "latency_seconds",
		Help:      "Prediction request latency in seconds",
		Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"version", "explain"})

	// coverageRatio 每行输入的特征覆盖率
	coverageRatio = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "feature",
		Name:      "coverage_ratio",
		Help:      "Fraction of required features present in an input row",
		Buckets:   []float64{0, 0.25, 0.5, 0.75, 0.9, 0.95, 0.99, 1},
	})

	// missingFeatures 按特征统计的缺失次数
	missingFeatures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feature",
		Name:      "missing_total",
		Help:      "Total rows missing a required feature",
	}, []string{"feature"})

	// preprocessFailures 预处理阶段失败次数，policy 为 strict 或 lenient
	preprocessFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "feature",
		Name:      "preprocess_failures_total",
		Help:      "Total preprocessing stage failures",
	}, []string{"policy"})

	// bundleLoads 版本加载次数与耗时
	bundleLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "artifact",
		Name:      "loads_total",
		Help:      "Total model bundle loads",
	}, []string{"kind", "status"})

	bundleLoadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "artifact",
		Name:      "load_duration_seconds",
		Help:      "Model bundle load duration in seconds",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"kind"})

	// activeVersion 当前 latest 版本，值恒为 1
	activeVersion = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "artifact",
		Name:      "active_version",
		Help:      "Currently published latest model version",
	}, []string{"version"})

	// explanations 归因结果，status 为方法名或错误标记
	explanations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "explain",
		Name:      "total",
		Help:      "Total explanations by method or error marker",
	}, []string{"status"})
)

// ObservePredictions 记录一个批次的预测结果
func ObservePredictions(version, runtime, status string, rows int, explain bool, d time.Duration) {
	predictions.WithLabelValues(version, runtime, status).Add(float64(rows))
	predictLatency.WithLabelValues(version, boolLabel(explain)).Observe(d.Seconds())
}

// ObserveCoverage 记录单行的覆盖率与缺失特征
func ObserveCoverage(ratio float64, missing []string) {
	coverageRatio.Observe(ratio)
	for _, f := range missing {
		missingFeatures.WithLabelValues(f).Inc()
	}
}

// ObservePreprocessFailure 记录预处理失败
func ObservePreprocessFailure(policy string) {
	preprocessFailures.WithLabelValues(policy).Inc()
}

// ObserveBundleLoad 记录一次版本加载，kind 为 latest、version 或 refresh
func ObserveBundleLoad(kind string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	bundleLoads.WithLabelValues(kind, status).Inc()
	bundleLoadDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// SetActiveVersion 切换当前 latest 版本，空字符串表示已失效
func SetActiveVersion(version string) {
	activeVersion.Reset()
	if version != "" {
		activeVersion.WithLabelValues(version).Set(1)
	}
}

// ObserveExplanation 记录一次归因
func ObserveExplanation(status string) {
	explanations.WithLabelValues(status).Inc()
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
