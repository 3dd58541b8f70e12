// Package logging builds the zap loggers used by the localtrust command.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// ParseLevel maps a level name (debug, info, warn, error) to a zap level.
// The empty string means info.
func ParseLevel(name string) (zapcore.Level, error) {
	if name == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

// New returns a logger writing to out at the given level. Terminals get a
// coloured console encoder, everything else gets JSON.
func New(level string, out *os.File) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	atom := zap.NewAtomicLevelAt(lvl)

	var encoder zapcore.Encoder
	if term.IsTerminal(int(out.Fd())) {
		encoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey: "message",

			LevelKey:    "level",
			EncodeLevel: zapcore.CapitalColorLevelEncoder,

			TimeKey:    "time",
			EncodeTime: zapcore.ISO8601TimeEncoder,

			CallerKey:    "caller",
			EncodeCaller: zapcore.ShortCallerEncoder,
		})
	} else {
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(out), atom)
	return zap.New(core, zap.AddCaller()), nil
}

// StandardErrorLog adapts l for APIs that want a *log.Logger, such as
// http.Server.ErrorLog.
func StandardErrorLog(l *zap.Logger) *log.Logger {
	errorLog, err := zap.NewStdLogAt(l, zapcore.ErrorLevel)
	if err != nil {
		return nil
	}
	return errorLog
}
