package logging

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AsynqLogger routes asynq's server logs through zerolog
type AsynqLogger struct{}

func (AsynqLogger) Debug(args ...interface{}) { log.Debug().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (AsynqLogger) Info(args ...interface{})  { log.Info().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (AsynqLogger) Warn(args ...interface{})  { log.Warn().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (AsynqLogger) Error(args ...interface{}) { log.Error().Str("component", "asynq").Msg(fmt.Sprint(args...)) }
func (AsynqLogger) Fatal(args ...interface{}) { log.Fatal().Str("component", "asynq").Msg(fmt.Sprint(args...)) }

// AsynqLevel maps the global zerolog level onto asynq's
func AsynqLevel() asynq.LogLevel {
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return asynq.DebugLevel
	case zerolog.InfoLevel:
		return asynq.InfoLevel
	case zerolog.WarnLevel:
		return asynq.WarnLevel
	case zerolog.ErrorLevel:
		return asynq.ErrorLevel
	default:
		return asynq.FatalLevel
	}
}
