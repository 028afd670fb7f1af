package session

import (
	"context"
	"time"

	"hitl-agent/pkg/log"
	"hitl-agent/pkg/metrics"
)

// Sweeper 清理已过期会话留下的悬挂索引条目
type Sweeper struct {
	store     Store
	retention time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// NewSweeper 创建 Sweeper；retention 为过期会话索引的保留时长
func NewSweeper(store Store, retention time.Duration, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.Nop()
	}
	return &Sweeper{store: store, retention: retention, logger: logger, now: time.Now}
}

// RunOnce 执行一次清理
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	n, err := s.store.Prune(ctx, s.now().Add(-s.retention))
	if err != nil {
		s.logger.Error("会话索引清理失败", "error", err, "removed", n)
		return n, err
	}
	metrics.SweepRemovedTotal.Add(float64(n))
	if n > 0 {
		s.logger.Info("会话索引清理完成", "removed", n)
	}
	return n, nil
}
