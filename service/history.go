package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rushteam/reminsight/core"
	"github.com/rushteam/reminsight/pkg/logger"
)

// HistoryEntry 是一条预测历史，只保存结果，不保存原始输入
type HistoryEntry struct {
	SubjectID     string    `json:"subject_id"`
	Version       string    `json:"version"`
	Prediction    int       `json:"prediction"`
	Probabilities []float64 `json:"probabilities"`
	Coverage      float64   `json:"coverage_ratio"`
	Warning       string    `json:"warning,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// History 基于 TimelineStore 的按受试者预测历史
type History struct {
	store      core.TimelineStore
	keyPrefix  string
	maxEntries int64
	ttl        int
	now        func() time.Time
	logger     *logger.Logger
}

// HistoryOption 配置 History
type HistoryOption func(*History)

// WithHistoryMaxEntries 每个受试者保留的最大条数，默认 50
func WithHistoryMaxEntries(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.maxEntries = int64(n)
		}
	}
}

// WithHistoryTTL 历史过期时间（秒），0 表示不过期
func WithHistoryTTL(seconds int) HistoryOption {
	return func(h *History) { h.ttl = seconds }
}

// WithHistoryKeyPrefix 设置 key 前缀，默认 "reminsight:history:"
func WithHistoryKeyPrefix(prefix string) HistoryOption {
	return func(h *History) {
		if prefix != "" {
			h.keyPrefix = prefix
		}
	}
}

// WithHistoryLogger 设置 logger
func WithHistoryLogger(l *logger.Logger) HistoryOption {
	return func(h *History) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHistory(store core.TimelineStore, opts ...HistoryOption) *History {
	h := &History{
		store:      store,
		keyPrefix:  "reminsight:history:",
		maxEntries: 50,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logger.Get()
	}
	h.logger = h.logger.With("component", "history", "store", store.Name())
	return h
}

func (h *History) key(subjectID string) string {
	return h.keyPrefix + subjectID
}

// lastKey 保存最近一条记录，读取时不需要遍历时间线
func (h *History) lastKey(subjectID string) string {
	return h.keyPrefix + subjectID + ":last"
}

// Record 追加一条预测结果并裁剪到最大条数
func (h *History) Record(ctx context.Context, subjectID string, r core.PredictionResult) error {
	if subjectID == "" {
		return core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "subject id is required")
	}
	now := h.now()
	entry := HistoryEntry{
		SubjectID:     subjectID,
		Version:       r.Version,
		Prediction:    r.Prediction,
		Probabilities: r.Probabilities,
		Coverage:      r.Coverage.Ratio,
		Warning:       r.Warning,
		CreatedAt:     now.UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}
	key := h.key(subjectID)
	if err := h.store.ZAdd(ctx, key, float64(now.UnixNano()), string(data)); err != nil {
		return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, err, "failed to record history")
	}
	if err := h.store.Set(ctx, h.lastKey(subjectID), data, h.ttl); err != nil {
		h.logger.Warnw("history last entry write failed", "subject_id", subjectID, "error", err)
	}
	if err := h.store.ZTrim(ctx, key, h.maxEntries); err != nil {
		h.logger.Warnw("history trim failed", "subject_id", subjectID, "error", err)
	}
	if h.ttl > 0 {
		if err := h.store.Expire(ctx, key, h.ttl); err != nil {
			h.logger.Warnw("history expire failed", "subject_id", subjectID, "error", err)
		}
	}
	return nil
}

// List 返回最近的 limit 条记录，新的在前；limit <= 0 时返回全部
func (h *History) List(ctx context.Context, subjectID string, limit int) ([]HistoryEntry, error) {
	if subjectID == "" {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "subject id is required")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	members, err := h.store.ZRange(ctx, h.key(subjectID), 0, stop)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, err, "failed to read history")
	}
	entries := make([]HistoryEntry, 0, len(members))
	for _, m := range members {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(m), &e); err != nil {
			h.logger.Warnw("skipping unreadable history entry", "subject_id", subjectID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Last 返回最近一条记录，没有记录时返回 NOT_FOUND
func (h *History) Last(ctx context.Context, subjectID string) (*HistoryEntry, error) {
	if subjectID == "" {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput, "subject id is required")
	}
	data, err := h.store.Get(ctx, h.lastKey(subjectID))
	if err != nil {
		if core.IsStoreNotFound(err) {
			return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotFound,
				fmt.Sprintf("no history for subject %q", subjectID))
		}
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, err, "failed to read history")
	}
	var e HistoryEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeCorruptArtifact, err, "unreadable history entry")
	}
	return &e, nil
}

// Clear 删除受试者的全部历史
func (h *History) Clear(ctx context.Context, subjectID string) error {
	if err := h.store.Delete(ctx, h.lastKey(subjectID)); err != nil {
		return err
	}
	return h.store.Delete(ctx, h.key(subjectID))
}
