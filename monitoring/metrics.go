package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType 指标类型
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// 服务指标名称
const (
	MetricPredictions       = "mhscore_predictions_total"
	MetricPredictionErrors  = "mhscore_prediction_errors_total"
	MetricCacheHits         = "mhscore_prediction_cache_hits_total"
	MetricPredictionLatency = "mhscore_prediction_latency_ms"
	MetricArtifactLoaded    = "mhscore_artifact_loaded"
	MetricArtifactChanges   = "mhscore_artifact_changes_total"
)

const maxHistory = 1000

// Metric 指标
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Help      string            `json:"help,omitempty"`
}

// MetricsCollector 指标收集器. Counters accumulate, gauges keep the latest
// value and histograms keep a bounded window of observations.
type MetricsCollector struct {
	metricsLock sync.RWMutex
	counters    map[string]*Metric
	gauges      map[string]*Metric
	histograms  map[string][]float64
	help        map[string]string

	startTime time.Time
}

// NewMetricsCollector 创建指标收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*Metric),
		gauges:     make(map[string]*Metric),
		histograms: make(map[string][]float64),
		help: map[string]string{
			MetricPredictions:       "Predictions served",
			MetricPredictionErrors:  "Prediction requests that failed",
			MetricCacheHits:         "Predictions answered from the cache",
			MetricPredictionLatency: "Prediction latency in milliseconds",
			MetricArtifactLoaded:    "1 once the model artifact is loaded",
			MetricArtifactChanges:   "Artifact file changes seen while pinned",
		},
		startTime: time.Now(),
	}
}

// Run 周期性收集系统指标，直到ctx结束
func (mc *MetricsCollector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	mc.collectSystemMetrics()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mc.collectSystemMetrics()
		}
	}
}

func (mc *MetricsCollector) collectSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mc.SetGauge("memory_heap_alloc", float64(m.HeapAlloc), nil)
	mc.SetGauge("system_goroutines", float64(runtime.NumGoroutine()), nil)
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf(`%s="%s"`, k, labels[k])
	}
	return name + "{" + strings.Join(parts, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

// IncrCounter 增加计数器
func (mc *MetricsCollector) IncrCounter(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	key := metricKey(name, labels)
	m, ok := mc.counters[key]
	if !ok {
		m = &Metric{Name: name, Type: MetricTypeCounter, Labels: copyLabels(labels), Help: mc.help[name]}
		mc.counters[key] = m
	}
	m.Value += value
	m.Timestamp = time.Now()
}

// SetGauge 设置仪表
func (mc *MetricsCollector) SetGauge(name string, value float64, labels map[string]string) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	key := metricKey(name, labels)
	mc.gauges[key] = &Metric{
		Name:      name,
		Type:      MetricTypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
		Help:      mc.help[name],
	}
}

// RecordHistogram 记录直方图观测值
func (mc *MetricsCollector) RecordHistogram(name string, value float64) {
	mc.metricsLock.Lock()
	defer mc.metricsLock.Unlock()

	values := append(mc.histograms[name], value)
	if len(values) > maxHistory {
		values = values[len(values)-maxHistory:]
	}
	mc.histograms[name] = values
}

// Counter returns the current value of a counter, 0 if it was never touched.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) float64 {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()
	if m, ok := mc.counters[metricKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Gauge returns the latest value of a gauge.
func (mc *MetricsCollector) Gauge(name string, labels map[string]string) (float64, bool) {
	mc.metricsLock.RLock()
	defer mc.metricsLock.RUnlock()
	m, ok := mc.gauges[metricKey(name, labels)]
	if !ok {
		return 0, false
	}
	return m.Value, true
}

// HistogramSummary 直方图摘要
type HistogramSummary struct {
	Count   int     `json:"count"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Average float64 `json:"average"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
}

// GetHistogramSummary 获取直方图摘要
func (mc *MetricsCollector) GetHistogramSummary(name string) HistogramSummary {
	mc.metricsLock.RLock()
	values := append([]float64(nil), mc.histograms[name]...)
	mc.metricsLock.RUnlock()

	if len(values) == 0 {
		return HistogramSummary{}
	}
	sort.Float64s(values)
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return HistogramSummary{
		Count:   len(values),
		Min:     values[0],
		Max:     values[len(values)-1],
		Average: sum / float64(len(values)),
		P50:     percentile(values, 0.50),
		P95:     percentile(values, 0.95),
	}
}

func percentile(sorted []float64, q float64) float64 {
	idx := int(float64(len(sorted)-1) * q)
	return sorted[idx]
}

// Snapshot 指标快照
type Snapshot struct {
	Uptime     string                      `json:"uptime"`
	Counters   []Metric                    `json:"counters"`
	Gauges     []Metric                    `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// Snapshot 获取所有指标的副本
func (mc *MetricsCollector) Snapshot() Snapshot {
	mc.metricsLock.RLock()
	snap := Snapshot{
		Uptime:     mc.GetUptime().Truncate(time.Second).String(),
		Counters:   make([]Metric, 0, len(mc.counters)),
		Gauges:     make([]Metric, 0, len(mc.gauges)),
		Histograms: make(map[string]HistogramSummary, len(mc.histograms)),
	}
	for _, m := range mc.counters {
		c := *m
		c.Labels = copyLabels(m.Labels)
		snap.Counters = append(snap.Counters, c)
	}
	for _, m := range mc.gauges {
		g := *m
		g.Labels = copyLabels(m.Labels)
		snap.Gauges = append(snap.Gauges, g)
	}
	names := make([]string, 0, len(mc.histograms))
	for name := range mc.histograms {
		names = append(names, name)
	}
	mc.metricsLock.RUnlock()

	for _, name := range names {
		snap.Histograms[name] = mc.GetHistogramSummary(name)
	}
	sortMetrics(snap.Counters)
	sortMetrics(snap.Gauges)
	return snap
}

func sortMetrics(ms []Metric) {
	sort.Slice(ms, func(i, j int) bool {
		return metricKey(ms[i].Name, ms[i].Labels) < metricKey(ms[j].Name, ms[j].Labels)
	})
}

// ExportPrometheus 导出Prometheus文本格式
func (mc *MetricsCollector) ExportPrometheus() string {
	snap := mc.Snapshot()
	var b strings.Builder
	seen := make(map[string]bool)
	write := func(m Metric) {
		if !seen[m.Name] {
			seen[m.Name] = true
			help := m.Help
			if help == "" {
				help = fmt.Sprintf("Metric %s", m.Name)
			}
			fmt.Fprintf(&b, "# HELP %s %s\n", m.Name, help)
			fmt.Fprintf(&b, "# TYPE %s %s\n", m.Name, m.Type)
		}
		fmt.Fprintf(&b, "%s %g\n", metricKey(m.Name, m.Labels), m.Value)
	}
	for _, m := range snap.Counters {
		write(m)
	}
	for _, m := range snap.Gauges {
		write(m)
	}

	names := make([]string, 0, len(snap.Histograms))
	for name := range snap.Histograms {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		s := snap.Histograms[name]
		fmt.Fprintf(&b, "# TYPE %s summary\n", name)
		fmt.Fprintf(&b, "%s{quantile=\"0.5\"} %g\n", name, s.P50)
		fmt.Fprintf(&b, "%s{quantile=\"0.95\"} %g\n", name, s.P95)
		fmt.Fprintf(&b, "%s_count %d\n", name, s.Count)
	}
	return b.String()
}

// ExportJSON 导出JSON格式
func (mc *MetricsCollector) ExportJSON() ([]byte, error) {
	return json.Marshal(mc.Snapshot())
}

// GetUptime 获取运行时间
func (mc *MetricsCollector) GetUptime() time.Duration {
	return time.Since(mc.startTime)
}
