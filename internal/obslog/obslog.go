// Package obslog configures the zerolog.Logger instances passed down into
// the registry and codecs. Library code never reaches for a package-level
// global logger; callers who don't supply one get Nop(), so using this
// module with no logger configured costs nothing.
package obslog

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

const (
	// EnvLevel overrides the level New defaults to, e.g. "debug" or "warn".
	EnvLevel = "BLINK_LOG_LEVEL"
	// EnvNoColor disables ANSI color in the console writer.
	EnvNoColor = "BLINK_LOG_NOCOLOR"
)

// New builds a zerolog.Logger writing to w at level, applying environment
// overrides the way danmuck-edgectl's logging wrapper layers env vars over
// a profile default.
func New(w io.Writer, level string) zerolog.Logger {
	lvl, ok := parseLevel(level)
	if !ok {
		lvl = zerolog.InfoLevel
	}
	if envLvl, ok := parseLevel(os.Getenv(EnvLevel)); ok {
		lvl = envLvl
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	if noColor, err := strconv.ParseBool(os.Getenv(EnvNoColor)); err == nil {
		console.NoColor = noColor
	}
	return zerolog.New(console).Level(lvl).With().Timestamp().Logger()
}

// Nop returns a logger that discards everything, the default used whenever
// a caller doesn't supply its own.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "off", "none":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}
