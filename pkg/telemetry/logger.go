package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

var logLevels = map[string]zerolog.Level{
	"trace": zerolog.TraceLevel,
	"debug": zerolog.DebugLevel,
	"info":  zerolog.InfoLevel,
	"warn":  zerolog.WarnLevel,
	"error": zerolog.ErrorLevel,
	"fatal": zerolog.FatalLevel,
}

// Logger wraps zerolog.Logger with the fields request execution logs by.
// A Logger is immutable; every With method returns a child.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger builds a logger from cfg.
func NewLogger(cfg LoggingConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		zctx = zctx.Caller()
	}
	level, ok := logLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zlog := zctx.Logger().Level(level)

	if cfg.SampleEvery > 1 {
		sampler := &zerolog.BasicSampler{N: cfg.SampleEvery}
		zlog = zlog.Sample(zerolog.LevelSampler{TraceSampler: sampler, DebugSampler: sampler})
	}
	return &Logger{zlog: zlog}
}

// NewLoggerFrom wraps an already configured zerolog.Logger.
func NewLoggerFrom(zlog zerolog.Logger) *Logger {
	return &Logger{zlog: zlog}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// NewComponentLogger returns a child tagged with component.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// WithField returns a child with one more field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithFields returns a child with the given fields.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zctx := l.zlog.With()
	for k, v := range fields {
		zctx = zctx.Interface(k, v)
	}
	return &Logger{zlog: zctx.Logger()}
}

// WithExecutionID tags entries with the id shared by an execute call and
// its history rows.
func (l *Logger) WithExecutionID(id string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("execution_id", id).Logger()}
}

// WithNode tags entries with the node account a request goes to.
func (l *Logger) WithNode(node string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("node", node).Logger()}
}

// WithMethod tags entries with the service method.
func (l *Logger) WithMethod(method string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("method", method).Logger()}
}

// WithAttempt tags entries with the attempt number and budget.
func (l *Logger) WithAttempt(attempt, maxAttempts int) *Logger {
	return &Logger{zlog: l.zlog.With().Int("attempt", attempt).Int("max_attempts", maxAttempts).Logger()}
}

// WithError attaches err.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

func (l *Logger) Trace(msg string) { l.zlog.Trace().Msg(msg) }
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zlog.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zlog.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }
