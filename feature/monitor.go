package feature

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rushteam/reminsight/core"
)

// FeatureStats 是单个特征在线上输入中的统计
type FeatureStats struct {
	FeatureName  string    `json:"feature"`
	UsageCount   int64     `json:"usage_count"`
	MissingCount int64     `json:"missing_count"`
	InvalidCount int64     `json:"invalid_count"`
	MissingRate  float64   `json:"missing_rate"`
	Mean         float64   `json:"mean"`
	Std          float64   `json:"std"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	P50          float64   `json:"p50"`
	P95          float64   `json:"p95"`
	LastSeen     time.Time `json:"last_seen"`
}

// CoverageMonitor 是内存特征覆盖监控，记录每个特征的出现次数、缺失率和取值分布。
// 用于发现上游漏传字段或输入分布漂移；生产环境同时上报 Prometheus。
type CoverageMonitor struct {
	mu         sync.RWMutex
	stats      map[string]*FeatureStats
	values     map[string][]float64 // 最近的样本值
	maxSamples int
	rows       int64
	extra      map[string]int64
}

// NewCoverageMonitor 创建监控，maxSamples 为每个特征保留的最大样本数
func NewCoverageMonitor(maxSamples int) *CoverageMonitor {
	if maxSamples <= 0 {
		maxSamples = 1000
	}
	return &CoverageMonitor{
		stats:      make(map[string]*FeatureStats),
		values:     make(map[string][]float64),
		maxSamples: maxSamples,
		extra:      make(map[string]int64),
	}
}

func (m *CoverageMonitor) entry(name string) *FeatureStats {
	s := m.stats[name]
	if s == nil {
		s = &FeatureStats{FeatureName: name}
		m.stats[name] = s
	}
	return s
}

// Record 记录一行对齐结果。vector 为对齐后（预处理前）的向量。
func (m *CoverageMonitor) Record(features []string, vector []float64, cov core.Coverage) {
	missing := make(map[string]struct{}, len(cov.Missing))
	for _, name := range cov.Missing {
		missing[name] = struct{}{}
	}
	invalid := make(map[string]struct{}, len(cov.Invalid))
	for _, name := range cov.Invalid {
		invalid[name] = struct{}{}
	}

	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rows++
	for i, name := range features {
		s := m.entry(name)
		if _, ok := missing[name]; ok {
			s.MissingCount++
			if _, bad := invalid[name]; bad {
				s.InvalidCount++
			}
			continue
		}
		s.UsageCount++
		s.LastSeen = now
		if i < len(vector) && !math.IsNaN(vector[i]) {
			values := m.values[name]
			if len(values) >= m.maxSamples {
				values = values[1:]
			}
			m.values[name] = append(values, vector[i])
		}
	}
	for _, name := range cov.Extra {
		m.extra[name]++
	}
}

// Snapshot 返回当前所有特征的统计（按缺失率降序、名称升序）
func (m *CoverageMonitor) Snapshot() []FeatureStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FeatureStats, 0, len(m.stats))
	for name, s := range m.stats {
		cp := *s
		if total := cp.UsageCount + cp.MissingCount; total > 0 {
			cp.MissingRate = float64(cp.MissingCount) / float64(total)
		}
		if values := m.values[name]; len(values) > 0 {
			computed := ComputeStatistics(values)
			cp.Mean = computed.Mean
			cp.Std = computed.Std
			cp.Min = computed.Min
			cp.Max = computed.Max
			cp.P50 = computed.Median
			cp.P95 = computed.P95
		}
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MissingRate != out[j].MissingRate {
			return out[i].MissingRate > out[j].MissingRate
		}
		return out[i].FeatureName < out[j].FeatureName
	})
	return out
}

// Rows 返回已记录的行数
func (m *CoverageMonitor) Rows() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rows
}

// ExtraFields 返回出现过的多余字段及次数
func (m *CoverageMonitor) ExtraFields() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.extra))
	for k, v := range m.extra {
		out[k] = v
	}
	return out
}

// Reset 清空统计（切换模型版本时使用）
func (m *CoverageMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = make(map[string]*FeatureStats)
	m.values = make(map[string][]float64)
	m.extra = make(map[string]int64)
	m.rows = 0
}
