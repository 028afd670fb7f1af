package metrics

import (
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// 全局 Registry，供 API/Worker 注册与暴露
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		RunDuration, RunTotal, TurnTotal,
		InterruptTotal, DecisionTotal, CASConflictTotal,
		ToolDuration, ToolErrorTotal, ModelDuration, LLMWaitDuration,
		SweepRemovedTotal,
	)
}

// RunDuration 一次 invoke/resume 请求内编排循环耗时（秒）
var RunDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hitl_run_duration_seconds",
		Help:    "编排循环耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"op"}, // invoke | resume
)

// RunTotal 运行结束时的会话状态计数
var RunTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hitl_run_total",
		Help: "运行结果总数（按状态）",
	},
	[]string{"status"}, // AWAITING_REVIEW | DONE | FAILED
)

// TurnTotal Turn 执行次数
var TurnTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hitl_turn_total",
		Help: "Turn 执行次数（按结果）",
	},
	[]string{"outcome"}, // final | tool_calls | error
)

// InterruptTotal 产生的人工审核中断数
var InterruptTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "hitl_interrupt_total",
		Help: "人工审核中断总数",
	},
)

// DecisionTotal 已应用的审核决策数
var DecisionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hitl_decision_total",
		Help: "已应用的审核决策总数",
	},
	[]string{"action"}, // accept | reject | edit | respond
)

// CASConflictTotal 会话版本冲突次数
var CASConflictTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "hitl_session_cas_conflict_total",
		Help: "会话 compare-and-swap 冲突总数",
	},
)

// ToolDuration 工具调用耗时（秒）
var ToolDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hitl_tool_duration_seconds",
		Help:    "工具调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"tool"},
)

// ToolErrorTotal 工具调用失败次数
var ToolErrorTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "hitl_tool_error_total",
		Help: "工具调用失败总数",
	},
	[]string{"tool"},
)

// ModelDuration 模型调用耗时（秒）
var ModelDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hitl_model_duration_seconds",
		Help:    "模型调用耗时（秒）",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"model"},
)

// LLMWaitDuration 等待 LLM 限流许可的耗时（秒）
var LLMWaitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "hitl_llm_wait_seconds",
		Help:    "等待 LLM 限流许可的耗时（秒）",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
	},
	[]string{"provider"},
)

// SweepRemovedTotal 索引清理移除的条目数
var SweepRemovedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "hitl_sweep_removed_total",
		Help: "会话索引清理移除的条目总数",
	},
)

// WritePrometheus 将 Prometheus 文本格式写入 w（供 Hertz 等复用）
func WritePrometheus(w io.Writer) error {
	metrics, err := DefaultRegistry.Gather()
	if err != nil {
		return err
	}
	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range metrics {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	return nil
}
