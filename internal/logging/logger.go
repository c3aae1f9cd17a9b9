package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// Options 控制日志输出格式与错误上报。
type Options struct {
	Dev       bool
	SentryDSN string
	Output    io.Writer
}

// New 创建结构化日志器并设置为全局默认。
// 开发环境使用文本格式与 Debug 级别，生产环境使用 JSON 与 Info 级别；
// 配置了 SentryDSN 时错误日志同时上报 Sentry。
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var handlers []slog.Handler
	if opts.Dev {
		handlers = append(handlers, slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	} else {
		handlers = append(handlers, slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	var sentryErr error
	if opts.SentryDSN != "" {
		sentryErr = sentry.Init(sentry.ClientOptions{
			Dsn:              opts.SentryDSN,
			TracesSampleRate: 1.0,
		})
		if sentryErr == nil {
			handlers = append(handlers, slogsentry.Option{Level: slog.LevelError}.NewSentryHandler())
		}
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = slogmulti.Fanout(handlers...)
	} else {
		handler = handlers[0]
	}

	logger := slog.New(handler).With("service", "paperplane")
	slog.SetDefault(logger)
	if sentryErr != nil {
		logger.Warn("sentry disabled: init failed", "error", sentryErr)
	}
	return logger
}

// Discard 返回丢弃全部输出的日志器，供测试使用。
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
