// Package percolog provides the structured logger used across the core.
package percolog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, configured once via Init.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls logger construction.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

func init() {
	// Sensible default so packages that log before Init (tests, library
	// callers that skip explicit setup) still get output.
	Init(Config{Level: InfoLevel})
}

// Init (re)configures the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent returns a child logger tagged with a component name, e.g.
// "writepipeline", "vectorindex", "replication".
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithTenant returns a child logger tagged with a tenant id.
func WithTenant(logger zerolog.Logger, tenantID string) zerolog.Logger {
	return logger.With().Str("tenant", tenantID).Logger()
}

// WithSchema returns a child logger tagged with a schema short name.
func WithSchema(logger zerolog.Logger, schema string) zerolog.Logger {
	return logger.With().Str("schema", schema).Logger()
}

// WithEntity returns a child logger tagged with an entity id.
func WithEntity(logger zerolog.Logger, entityID string) zerolog.Logger {
	return logger.With().Str("entity_id", entityID).Logger()
}
