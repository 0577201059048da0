// Package logger holds the process-wide zap logger.
//
// Logger is a no-op until InitializeWithVerbosity runs, so packages can log from init
// paths and tests without setup. Long-lived components take a named logger
// from ComponentLogger instead of reaching for the global.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the global sugared logger
	Logger = zap.NewNop().Sugar()

	// JSONOutput records whether the last Initialize selected JSON lines
	JSONOutput bool

	level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
)

// InitializeWithVerbosity sets up the global logger from a -v flag count
func InitializeWithVerbosity(jsonOutput bool, verbosity int) error {
	return InitializeWithLevel(jsonOutput, VerbosityToLevel(verbosity))
}

// InitializeWithLevel sets up the global logger writing to stderr, leaving
// stdout to command results
func InitializeWithLevel(jsonOutput bool, lvl zapcore.Level) error {
	return initialize(os.Stderr, jsonOutput, lvl)
}

func initialize(w io.Writer, jsonOutput bool, lvl zapcore.Level) error {
	level.SetLevel(lvl)
	JSONOutput = jsonOutput
	Logger = zap.New(newCore(zapcore.AddSync(w), jsonOutput), zap.ErrorOutput(zapcore.AddSync(w))).Sugar()
	return nil
}

func newCore(w zapcore.WriteSyncer, jsonOutput bool) zapcore.Core {
	if jsonOutput {
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level)
	}
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(zapcore.NewConsoleEncoder(enc), w, level)
}

// Cleanup flushes any buffered log entries
func Cleanup() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Infow logs through the global logger; safe before Initialize
func Infow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Infow(msg, keysAndValues...)
	}
}

// Warnw logs through the global logger; safe before Initialize
func Warnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Warnw(msg, keysAndValues...)
	}
}

// Errorw logs through the global logger; safe before Initialize
func Errorw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Errorw(msg, keysAndValues...)
	}
}

// Debugw logs through the global logger; safe before Initialize
func Debugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		Logger.Debugw(msg, keysAndValues...)
	}
}
