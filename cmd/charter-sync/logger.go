package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	glog "github.com/goliatone/go-logger/glog"
)

// slogLogger satisfies glog.Logger for the binary. Library packages only see
// the glog interfaces.
type slogLogger struct {
	base *slog.Logger
	ctx  context.Context
}

func newLogger(level string) *slogLogger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return &slogLogger{base: slog.New(handler), ctx: context.Background()}
}

func (l *slogLogger) Trace(msg string, args ...any) { l.log(slog.LevelDebug-4, msg, args...) }
func (l *slogLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *slogLogger) Fatal(msg string, args ...any) {
	l.log(slog.LevelError, msg, args...)
	os.Exit(1)
}

func (l *slogLogger) WithContext(ctx context.Context) glog.Logger {
	if ctx == nil {
		return l
	}
	return &slogLogger{base: l.base, ctx: ctx}
}

func (l *slogLogger) log(level slog.Level, msg string, args ...any) {
	if len(args)%2 != 0 {
		args = append(args[:len(args)-1], "extra", fmt.Sprint(args[len(args)-1]))
	}
	l.base.Log(l.ctx, level, msg, args...)
}

type loggerProvider struct {
	root *slogLogger
}

func (p loggerProvider) GetLogger(name string) glog.Logger {
	return &slogLogger{base: p.root.base.With("component", name), ctx: p.root.ctx}
}
