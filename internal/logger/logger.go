package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

var (
	level slog.LevelVar
	sink  atomic.Pointer[slog.Logger]
)

func init() {
	sink.Store(build(os.Stdout))
}

func build(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: &level}))
}

// SetOutput 重定向日志输出，nil 回落到标准输出。
func SetOutput(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	sink.Store(build(w))
}

// SetLevel 设置日志级别（debug/info/warn/error），无法识别时取 info。
func SetLevel(name string) {
	level.Set(parseLevel(name))
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func Debugf(format string, v ...any) {
	sink.Load().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	sink.Load().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	sink.Load().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	sink.Load().Error(fmt.Sprintf(format, v...))
}
