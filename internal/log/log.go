package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

var (
	logger     = newLogger(os.Stderr, LevelInfo)
	loggerLock sync.RWMutex
)

func newLogger(w io.Writer, level Level) zerolog.Logger {
	if f, ok := w.(*os.File); ok && (f == os.Stderr || f == os.Stdout) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", "swiftsink").Logger()
}

// SetOutput 设置日志输出位置，输出到终端时使用可读格式，否则输出 JSON
func SetOutput(w io.Writer) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger = newLogger(w, logger.GetLevel())
}

func SetLevel(level Level) {
	loggerLock.Lock()
	defer loggerLock.Unlock()
	logger = logger.Level(level)
}

func GetLevel() Level {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger.GetLevel()
}

// ParseLevel 解析日志级别，空字符串视为 info
func ParseLevel(s string) (Level, error) {
	if strings.TrimSpace(s) == "" {
		return LevelInfo, nil
	}
	return zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
}

func current() zerolog.Logger {
	loggerLock.RLock()
	defer loggerLock.RUnlock()
	return logger
}

func Debug(msg string) {
	l := current()
	l.Debug().Msg(msg)
}

func Info(msg string) {
	l := current()
	l.Info().Msg(msg)
}

func Warn(msg string) {
	l := current()
	l.Warn().Msg(msg)
}

func Error(msg string) {
	l := current()
	l.Error().Msg(msg)
}
