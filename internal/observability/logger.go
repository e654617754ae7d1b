package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger пишет структурированные события в консоль и, если задан путь, в ротируемый файл.
// Поля передаются парами ключ/значение: logger.Info("msg", "site", id, "page", n).
type Logger struct {
	zl   zerolog.Logger
	file *lumberjack.Logger
}

func NewLogger(logPath, logLevel string) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(logLevel))
	if err != nil || logLevel == "" {
		level = zerolog.InfoLevel
	}

	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}}

	var file *lumberjack.Logger
	if logPath != "" {
		file = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		writers = append(writers, file)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().
		Timestamp().
		Logger()

	return &Logger{zl: zl, file: file}
}

// NewNop возвращает логгер, который ничего не пишет (для тестов)
func NewNop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With возвращает дочерний логгер с постоянными полями
func (l *Logger) With(fields ...interface{}) *Logger {
	return &Logger{zl: l.zl.With().Fields(pairs(fields)).Logger(), file: l.file}
}

// SetDebug переключает уровень на debug (флаг --debug)
func (l *Logger) SetDebug() {
	l.zl = l.zl.Level(zerolog.DebugLevel)
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.zl.Debug().Fields(pairs(fields)).Msg(msg)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.zl.Info().Fields(pairs(fields)).Msg(msg)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.zl.Warn().Fields(pairs(fields)).Msg(msg)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.zl.Error().Fields(pairs(fields)).Msg(msg)
}

// Close закрывает файл лога, если он открыт
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// pairs превращает "key", value, ... в map для zerolog.
// Непарный хвост попадает под ключ "extra".
func pairs(fields []interface{}) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields)/2+1)
	for i := 0; i < len(fields); i += 2 {
		if i+1 >= len(fields) {
			m["extra"] = fields[i]
			break
		}
		key, ok := fields[i].(string)
		if !ok {
			key = fmt.Sprint(fields[i])
		}
		if err, isErr := fields[i+1].(error); isErr {
			m[key] = err.Error()
			continue
		}
		m[key] = fields[i+1]
	}
	return m
}
