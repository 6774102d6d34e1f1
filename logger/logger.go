package logger

import (
	"io"
	"strings"

	logging "github.com/op/go-logging"
)

// Logger интерфейс для логирования пакетов всех уровней OSI
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warning(format string, v ...any)
	Error(format string, v ...any)
}

var format = logging.MustStringFormatter(
	"%{color}%{time:15:04:05.000} %{module} ▶ %{level:.4s} %{id:03x}%{color:reset} %{message}",
)

// Setup устанавливает общий backend для всех категорий.
// level принимает значения go-logging: debug, info, notice, warning, error, critical.
func Setup(w io.Writer, level string) error {
	lvl, err := logging.LogLevel(strings.ToUpper(level))
	if err != nil {
		return err
	}

	backend := logging.NewLogBackend(w, "", 0)
	formatter := logging.NewBackendFormatter(backend, format)
	leveled := logging.AddModuleLevel(formatter)
	leveled.SetLevel(lvl, "")

	logging.SetBackend(leveled)
	return nil
}

// goLogger реализует Logger поверх go-logging
type goLogger struct {
	log *logging.Logger
}

// NewLogger создает новый логгер с указанной категорией
func NewLogger(category string) Logger {
	return &goLogger{log: logging.MustGetLogger(category)}
}

func (l *goLogger) Debug(format string, v ...any) {
	l.log.Debugf(format, v...)
}

func (l *goLogger) Info(format string, v ...any) {
	l.log.Infof(format, v...)
}

func (l *goLogger) Warning(format string, v ...any) {
	l.log.Warningf(format, v...)
}

func (l *goLogger) Error(format string, v ...any) {
	l.log.Errorf(format, v...)
}

type nopLogger struct{}

// Nop возвращает логгер, который ничего не пишет
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(string, ...any)   {}
func (nopLogger) Info(string, ...any)    {}
func (nopLogger) Warning(string, ...any) {}
func (nopLogger) Error(string, ...any)   {}
