package util

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

// Debug is the default trace level; DPrintf calls with a level above the
// current setting are dropped.
const Debug uint64 = 1

var debugLevel = atomic.NewUint64(Debug)

var logger = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = os.Stderr
	l.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	l.SetLevel(logrus.DebugLevel)
	return l
}

// Logger returns the shared logger used by every package in this module.
func Logger() *logrus.Logger {
	return logger
}

// SetDebugLevel changes the DPrintf threshold and returns the old one.
func SetDebugLevel(level uint64) uint64 {
	old := debugLevel.Load()
	debugLevel.Store(level)
	return old
}

func DebugLevel() uint64 {
	return debugLevel.Load()
}

// DPrintf logs at debug level; a trailing newline in format is dropped so
// the formatter does not quote it into the message.
func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= debugLevel.Load() {
		format = strings.TrimSuffix(format, "\n")
		logger.WithField("lvl", level).Debugf(format, a...)
	}
}

func Infof(format string, a ...interface{}) {
	logger.Infof(format, a...)
}

func Warnf(format string, a ...interface{}) {
	logger.Warnf(format, a...)
}

func Errorf(format string, a ...interface{}) {
	logger.Errorf(format, a...)
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether a+b wraps around 2^64.
func SumOverflows(n uint64, m uint64) bool {
	return n+m < n
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
