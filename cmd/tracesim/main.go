// tracesim 是追踪内核的负载模拟器。
//
// 启动一个完整的代理装配（配置、日志、追踪器、采集管线），
// 用多 worker 模拟带嵌套段、跨 goroutine 传播和错误的事务流，
// 采集批次以 JSON 输出到 stdout。用于观察采样蓄水池与采集
// 周期在持续负载下的行为。
//
// 用法:
//
//	tracesim [--config agent.yaml] [--workers 8] [--duration 30s]
//
// 配置文件支持热更新：运行期修改采样率、传播开关或蓄水池容量
// 会被立即推给对应组件。
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/omeyang/tracekit/pkg/config/xconf"
	"github.com/omeyang/tracekit/pkg/harvest/xharvest"
	"github.com/omeyang/tracekit/pkg/observability/xlog"
	"github.com/omeyang/tracekit/pkg/tracing/xtracer"
)

// 版本信息（可通过 -ldflags 注入）。
var (
	Version = "0.1.0-dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	app := &cli.Command{
		Name:    "tracesim",
		Usage:   "追踪内核负载模拟器",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径（yaml/json），省略时使用默认配置",
			},
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "并发 worker 数",
				Value:   8,
			},
			&cli.DurationFlag{
				Name:    "duration",
				Aliases: []string{"d"},
				Usage:   "模拟时长，0 表示直到收到信号",
				Value:   30 * time.Second,
			},
		},
		Action: simulate,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tracesim: %v\n", err)
		return 1
	}
	return 0
}

func simulate(ctx context.Context, cmd *cli.Command) error {
	cfg := xconf.Default()
	var loader *xconf.Loader
	if path := cmd.String("config"); path != "" {
		var err error
		loader, err = xconf.Load(path)
		if err != nil {
			return err
		}
		cfg = loader.Config()
	}

	logOpts := []xlog.Option{xlog.WithLevel(xlog.ParseLevel(cfg.Log.Level))}
	if cfg.Log.File != "" {
		logOpts = append(logOpts, xlog.WithRotatingFile(cfg.Log.File, cfg.Log.MaxSizeMB, cfg.Log.MaxBackups))
	}
	logger := xlog.New(logOpts...)

	// stdout 导出器：批次摘要一行一个 JSON
	exporter := xharvest.ExporterFunc(func(_ context.Context, batch *xharvest.Batch) error {
		return json.NewEncoder(os.Stdout).Encode(map[string]any{
			"harvested_at": batch.HarvestedAt.Format(time.RFC3339),
			"events":       len(batch.Events),
			"metrics":      len(batch.Metrics),
			"seen":         batch.Stats.Seen,
			"dropped":      batch.Stats.Dropped,
		})
	})

	harvester, err := xharvest.New(exporter,
		xharvest.WithInterval(cfg.Harvest.Interval),
		xharvest.WithTimeout(cfg.Harvest.Timeout),
		xharvest.WithMaxRetries(cfg.Harvest.MaxRetries),
		xharvest.WithEventCapacity(cfg.Reservoir.EventCapacity),
		xharvest.WithOrphanTimeout(cfg.Harvest.OrphanTimeout),
		xharvest.WithLogger(logger))
	if err != nil {
		return err
	}

	tracer, err := xtracer.New(
		xtracer.WithCommitter(harvester),
		xtracer.WithLogger(logger),
		xtracer.WithDistributedTracing(cfg.Tracing.DistributedEnabled),
		xtracer.WithAutoPropagation(cfg.Tracing.AutoPropagate),
		xtracer.WithSampleRate(cfg.Tracing.SampleRate))
	if err != nil {
		return err
	}

	if loader != nil {
		watcher, werr := loader.Watch(func(next *xconf.AgentConfig, werr error) {
			if werr != nil {
				logger.Warn(ctx, "config reload failed", slog.String("error", werr.Error()))
				return
			}
			tracer.SetDistributedTracing(next.Tracing.DistributedEnabled)
			tracer.SetAutoPropagation(next.Tracing.AutoPropagate)
			tracer.SetSampleRate(next.Tracing.SampleRate)
			if cerr := harvester.SetEventCapacity(next.Reservoir.EventCapacity); cerr != nil {
				logger.Warn(ctx, "resize reservoir failed", slog.String("error", cerr.Error()))
			}
			harvester.SetOrphanTimeout(next.Harvest.OrphanTimeout)
			logger.Info(ctx, "config applied",
				slog.Float64("sample_rate", next.Tracing.SampleRate),
				slog.Int("event_capacity", next.Reservoir.EventCapacity))
		})
		if werr != nil {
			return werr
		}
		watcher.StartAsync()
		defer func() { _ = watcher.Stop() }()
	}

	if err := harvester.Start(); err != nil {
		return err
	}

	runCtx := ctx
	if d := cmd.Duration("duration"); d > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	workers := int(cmd.Int("workers"))
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			worker(runCtx, tracer, n)
		}(i)
	}
	wg.Wait()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return harvester.Shutdown(shutCtx)
}

// worker 循环产生模拟事务直到 ctx 取消。
func worker(ctx context.Context, tracer *xtracer.Tracer, n int) {
	routes := []string{"users/show", "users/list", "orders/create", "orders/status", "health"}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		route := routes[rand.IntN(len(routes))]
		_ = tracer.InTransaction(ctx, route, xtracer.CategoryWeb, func(tctx context.Context) error {
			db := tracer.StartSegment(tctx, "db/query",
				xtracer.WithUnscopedMetrics("Datastore/all"))
			sleep(ctx, time.Duration(rand.IntN(3))*time.Millisecond)
			db.End()

			// 四分之一的请求做跨 goroutine 扇出
			if rand.IntN(4) == 0 {
				var inner sync.WaitGroup
				inner.Add(1)
				tracer.GoTraced(tctx, func(gctx context.Context) {
					defer inner.Done()
					seg := tracer.StartSegment(gctx, "cache/fill")
					sleep(ctx, time.Duration(rand.IntN(2))*time.Millisecond)
					seg.End()
				})
				inner.Wait()
			}

			if rand.IntN(50) == 0 {
				return fmt.Errorf("simulated failure on %s (worker %d)", route, n)
			}
			return nil
		})

		sleep(ctx, time.Duration(rand.IntN(5))*time.Millisecond)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
