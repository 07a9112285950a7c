// Package logging builds the process logger shared by controller-runtime,
// klog and every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// traceLevel enables logr V(4), where per-request transport timing is logged.
const traceLevel = zapcore.Level(-4)

// New returns a controller-runtime logger writing to stderr at level.
func New(level string) (logr.Logger, error) {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter is New writing to w.
func NewWithWriter(level string, w io.Writer) (logr.Logger, error) {
	opts := crzap.Options{}
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "trace":
		opts.Development = true
		zapLevel = traceLevel
	case "debug":
		opts.Development = true
		zapLevel = zapcore.DebugLevel
	case "info", "":
		zapLevel = zapcore.InfoLevel
	case "warn", "warning":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		return logr.Logger{}, fmt.Errorf("unknown log level %q (expected trace, debug, info, warn, or error)", level)
	}
	atomic := zap.NewAtomicLevelAt(zapLevel)
	opts.Level = &atomic
	return crzap.New(crzap.UseFlagOptions(&opts), crzap.WriteTo(w)), nil
}
