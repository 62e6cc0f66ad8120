package logger

import (
	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

// PionFactory routes pion's internal logs into zerolog. Pion is chatty, so
// it gets its own minimum level.
type PionFactory struct {
	log zerolog.Logger
}

func NewPionFactory(root zerolog.Logger, level zerolog.Level) *PionFactory {
	return &PionFactory{log: root.Level(level)}
}

func (f *PionFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{log: f.log.With().Str("mod", "pion-"+scope).Logger()}
}

type pionLogger struct {
	log zerolog.Logger
}

func (p pionLogger) Trace(msg string) { p.log.Trace().Msg(msg) }

func (p pionLogger) Tracef(format string, args ...any) { p.log.Trace().Msgf(format, args...) }

func (p pionLogger) Debug(msg string) { p.log.Debug().Msg(msg) }

func (p pionLogger) Debugf(format string, args ...any) { p.log.Debug().Msgf(format, args...) }

func (p pionLogger) Info(msg string) { p.log.Info().Msg(msg) }

func (p pionLogger) Infof(format string, args ...any) { p.log.Info().Msgf(format, args...) }

func (p pionLogger) Warn(msg string) { p.log.Warn().Msg(msg) }

func (p pionLogger) Warnf(format string, args ...any) { p.log.Warn().Msgf(format, args...) }

func (p pionLogger) Error(msg string) { p.log.Error().Msg(msg) }

func (p pionLogger) Errorf(format string, args ...any) { p.log.Error().Msgf(format, args...) }
