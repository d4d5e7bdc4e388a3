package xlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 日志接口。
//
// 所有方法都需要 context.Context 参数，确保追踪信息正确传播。
// 方法签名只接受 slog.Attr，避免隐式 key-value 转换开销。
type Logger interface {
	// Debug 记录 Debug 级别日志
	Debug(ctx context.Context, msg string, attrs ...slog.Attr)

	// Info 记录 Info 级别日志
	Info(ctx context.Context, msg string, attrs ...slog.Attr)

	// Warn 记录 Warn 级别日志
	Warn(ctx context.Context, msg string, attrs ...slog.Attr)

	// Error 记录 Error 级别日志
	Error(ctx context.Context, msg string, attrs ...slog.Attr)

	// Stack 记录带当前 goroutine 调用栈的错误日志。
	// 用于内部故障隔离点：被 recover 的 panic 在这里留下完整现场。
	Stack(ctx context.Context, msg string, attrs ...slog.Attr)

	// With 返回带额外属性的派生 Logger。
	// 派生 logger 共享父级的动态级别。
	With(attrs ...slog.Attr) Logger
}

// Leveler 动态级别控制接口。
// 通过类型断言检查具体 Logger 是否支持运行时调级。
type Leveler interface {
	// SetLevel 动态设置日志级别，运行时生效
	SetLevel(level slog.Level)

	// GetLevel 获取当前日志级别
	GetLevel() slog.Level
}

// 编译时接口检查
var (
	_ Logger  = (*logger)(nil)
	_ Leveler = (*logger)(nil)
	_ Logger  = nopLogger{}
)

// maxStackSize Stack 方法捕获的最大调用栈字节数
const maxStackSize = 64 * 1024

// Options 日志构建选项。
type Options struct {
	writer   io.Writer
	level    slog.Level
	levelVar *slog.LevelVar
	text     bool
}

// Option 日志构建选项函数。
type Option func(*Options)

// WithWriter 设置输出目标。默认 os.Stderr。
func WithWriter(w io.Writer) Option {
	return func(o *Options) {
		if w != nil {
			o.writer = w
		}
	}
}

// WithLevel 设置初始日志级别。默认 slog.LevelInfo。
func WithLevel(level slog.Level) Option {
	return func(o *Options) {
		o.level = level
	}
}

// WithText 使用人类可读的文本格式而非 JSON。
func WithText() Option {
	return func(o *Options) {
		o.text = true
	}
}

// WithRotatingFile 输出到按大小滚动的日志文件。
//
// maxSizeMB 是单个文件的大小上限（MiB），maxBackups 是保留的历史文件数。
// 底层使用 lumberjack，滚动对调用方透明。
func WithRotatingFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *Options) {
		o.writer = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   true,
		}
	}
}

// New 构建 Logger。
//
// 返回的 Logger 同时实现 [Leveler]，可运行时调级。
func New(opts ...Option) Logger {
	o := &Options{
		writer: os.Stderr,
		level:  slog.LevelInfo,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	lv := new(slog.LevelVar)
	lv.Set(o.level)

	hopts := &slog.HandlerOptions{Level: lv}
	var h slog.Handler
	if o.text {
		h = slog.NewTextHandler(o.writer, hopts)
	} else {
		h = slog.NewJSONHandler(o.writer, hopts)
	}

	return &logger{handler: h, levelVar: lv}
}

// logger Logger 接口的 slog 实现
type logger struct {
	handler  slog.Handler
	levelVar *slog.LevelVar
}

func (l *logger) log(ctx context.Context, level slog.Level, msg string, attrs []slog.Attr) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.handler.Enabled(ctx, level) {
		return
	}
	r := slog.NewRecord(time.Now(), level, msg, 0)
	r.AddAttrs(attrs...)
	// Handler 失败被吞没：日志不可用时追踪静默降级，不影响业务调用链
	_ = l.handler.Handle(ctx, r)
}

func (l *logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, msg, attrs)
}

func (l *logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, msg, attrs)
}

func (l *logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, msg, attrs)
}

func (l *logger) Error(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, msg, attrs)
}

func (l *logger) Stack(ctx context.Context, msg string, attrs ...slog.Attr) {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	for n == len(buf) && len(buf) < maxStackSize {
		buf = make([]byte, min(len(buf)*2, maxStackSize))
		n = runtime.Stack(buf, false)
	}
	l.log(ctx, slog.LevelError, msg, append(attrs, slog.String("stack", string(buf[:n]))))
}

func (l *logger) With(attrs ...slog.Attr) Logger {
	if len(attrs) == 0 {
		return l
	}
	return &logger{
		handler:  l.handler.WithAttrs(attrs),
		levelVar: l.levelVar,
	}
}

func (l *logger) SetLevel(level slog.Level) { l.levelVar.Set(level) }
func (l *logger) GetLevel() slog.Level      { return l.levelVar.Level() }

// nopLogger 丢弃一切的 Logger
type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...slog.Attr) {}
func (nopLogger) Info(context.Context, string, ...slog.Attr)  {}
func (nopLogger) Warn(context.Context, string, ...slog.Attr)  {}
func (nopLogger) Error(context.Context, string, ...slog.Attr) {}
func (nopLogger) Stack(context.Context, string, ...slog.Attr) {}
func (nopLogger) With(...slog.Attr) Logger                    { return nopLogger{} }

// Nop 返回丢弃一切的 Logger。
func Nop() Logger {
	return nopLogger{}
}

// OrNop 将 nil Logger 归一化为 Nop。
// 各组件接收可选 Logger 时统一通过此函数容错。
func OrNop(l Logger) Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// ParseLevel 解析配置中的级别字符串（"debug"/"info"/"warn"/"error"）。
// 无法识别的输入回退到 Info。
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
