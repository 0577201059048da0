package logger

import "go.uber.org/zap/zapcore"

// -v counts accepted by every command
const (
	VerbosityUser  = 0 // results and errors
	VerbosityInfo  = 1 // submissions, watcher arms, startup
	VerbosityDebug = 2 // remote calls, retries, config detail
	VerbosityTrace = 3 // per-page and per-tick chatter
)

var verbosityNames = [...]string{"User", "Info (-v)", "Debug (-vv)", "Trace (-vvv)"}

// VerbosityToLevel maps a -v count to a zap level. Warnings always show;
// anything past -vv is debug.
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity >= VerbosityDebug {
		return zapcore.DebugLevel
	}
	if verbosity == VerbosityInfo {
		return zapcore.InfoLevel
	}
	return zapcore.WarnLevel
}

// LevelName labels a -v count for the startup banner
func LevelName(verbosity int) string {
	if verbosity < 0 {
		return "Unknown"
	}
	if verbosity >= len(verbosityNames) {
		verbosity = len(verbosityNames) - 1
	}
	return verbosityNames[verbosity]
}
