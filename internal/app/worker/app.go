package worker

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/robfig/cron/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	appcore "hitl-agent/internal/app"
	"hitl-agent/internal/runtime/session"
	"hitl-agent/pkg/config"
	"hitl-agent/pkg/log"
	"hitl-agent/pkg/metrics"
	"hitl-agent/pkg/tracing"
)

// App Worker 应用：按 cron 计划清理已过期会话的悬挂索引
type App struct {
	bootstrap *appcore.Bootstrap
	logger    *log.Logger
	sweeper   *session.Sweeper
	cron      *cron.Cron
	schedule  string
	timeout   time.Duration
	metrics   *server.Hertz
	tracer    *sdktrace.TracerProvider
}

// NewApp 创建新的 Worker 应用
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	b, err := appcore.NewBootstrap(ctx, cfg)
	if err != nil {
		return nil, err
	}
	schedule := cfg.Worker.SweepSchedule
	if schedule == "" {
		schedule = config.DefaultSweepSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		b.Close()
		return nil, fmt.Errorf("无效的清理计划 %q: %w", schedule, err)
	}
	retention := config.ParseDuration(cfg.Storage.Session.IndexRetention, config.DefaultIndexRetention)
	a := &App{
		bootstrap: b,
		logger:    b.Logger,
		sweeper:   session.NewSweeper(b.SessionStore, retention, b.Logger),
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		schedule:  schedule,
		timeout:   config.ParseDuration(cfg.Worker.Timeout, time.Minute),
	}
	if cfg.Monitoring.Prometheus.Enable && cfg.Monitoring.Prometheus.Port > 0 {
		a.metrics = newMetricsServer(fmt.Sprintf(":%d", cfg.Monitoring.Prometheus.Port))
	}
	if tc := cfg.Monitoring.Tracing; tc.Enable && tc.ExportEndpoint != "" {
		name := tc.ServiceName
		if name == "" {
			name = "hitl-worker"
		}
		tp, err := tracing.InitTracer(ctx, tracing.OTelConfig{
			ServiceName:    name,
			ExportEndpoint: tc.ExportEndpoint,
			Insecure:       tc.Insecure,
			SampleRatio:    tc.SampleRatio,
		})
		if err != nil {
			b.Logger.Warn("链路追踪初始化失败", "error", err)
		} else {
			a.tracer = tp
		}
	}
	return a, nil
}

func newMetricsServer(addr string) *server.Hertz {
	h := server.Default(server.WithHostPorts(addr))
	h.GET("/metrics", func(ctx context.Context, c *app.RequestContext) {
		var buf bytes.Buffer
		if err := metrics.WritePrometheus(&buf); err != nil {
			c.String(consts.StatusInternalServerError, err.Error())
			return
		}
		c.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
	})
	return h
}

// Sweep 执行一次清理
func (a *App) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx, span := tracing.StartSweepSpan(ctx)
	defer span.End()
	n, err := a.sweeper.RunOnce(ctx)
	tracing.RecordError(span, err)
	return n, err
}

// Start 启动定时清理
func (a *App) Start() error {
	if _, err := a.cron.AddFunc(a.schedule, func() {
		_, _ = a.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("注册清理任务失败: %w", err)
	}
	a.cron.Start()
	if a.metrics != nil {
		go a.metrics.Spin()
	}
	a.logger.Info("worker 应用启动成功", "sweep_schedule", a.schedule)
	return nil
}

// Shutdown 等待进行中的清理结束后关闭
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("关闭 worker 应用")
	stopped := a.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		a.logger.Warn("等待清理任务结束超时")
	}
	if a.metrics != nil {
		if err := a.metrics.Shutdown(ctx); err != nil {
			a.logger.Error("关闭指标服务失败", "error", err)
		}
	}
	if a.tracer != nil {
		_ = a.tracer.Shutdown(ctx)
	}
	a.bootstrap.Close()
	return nil
}
