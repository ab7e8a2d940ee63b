package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogLevel is the node-wide verbosity, mapped onto logrus levels.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
	FATAL
)

func (l LogLevel) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARNING:
		return "warning"
	case ERROR:
		return "error"
	case FATAL:
		return "fatal"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

var (
	log  *logrus.Logger
	once sync.Once
)

func initLogger() {
	once.Do(func() {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
		log.SetLevel(logrus.InfoLevel)
	})
}

// GetLogger returns the shared logrus instance used by the CLI and the HTTP API.
func GetLogger() *logrus.Logger {
	initLogger()
	return log
}

func SetLevel(level LogLevel) {
	initLogger()
	log.SetLevel(toLogrusLevel(level))
}

// SetFormat switches between "text" and "json" output.
func SetFormat(format string) {
	initLogger()
	switch strings.ToLower(format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}
}

func SetOutput(w io.Writer) {
	initLogger()
	log.SetOutput(w)
}

func toLogrusLevel(level LogLevel) logrus.Level {
	switch level {
	case DEBUG:
		return logrus.DebugLevel
	case WARNING:
		return logrus.WarnLevel
	case ERROR:
		return logrus.ErrorLevel
	case FATAL:
		return logrus.FatalLevel
	default:
		return logrus.InfoLevel
	}
}

func Debug(args ...interface{})                 { GetLogger().Debug(args...) }
func Debugf(format string, args ...interface{}) { GetLogger().Debugf(format, args...) }
func Info(args ...interface{})                  { GetLogger().Info(args...) }
func Infof(format string, args ...interface{})  { GetLogger().Infof(format, args...) }
func Warning(args ...interface{})               { GetLogger().Warn(args...) }
func Warningf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}
func Error(args ...interface{})                 { GetLogger().Error(args...) }
func Errorf(format string, args ...interface{}) { GetLogger().Errorf(format, args...) }

// WithFields returns an entry carrying structured context.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields(fields))
}

// LogBlockEvent records a committed block.
func LogBlockEvent(index int, hash string, txCount int, miner string) {
	GetLogger().WithFields(logrus.Fields{
		"index":    index,
		"hash":     hash,
		"tx_count": txCount,
		"miner":    miner,
	}).Info("Block committed")
}

// LogTransactionEvent records a transaction moving through the pool.
func LogTransactionEvent(id, from, to, event string, amount float64) {
	GetLogger().WithFields(logrus.Fields{
		"id":     id,
		"from":   from,
		"to":     to,
		"amount": amount,
	}).Infof("Transaction %s", event)
}
