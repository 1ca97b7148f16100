package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	appCtx "github.com/baechuer/real-time-ressys/services/history-service/internal/pkg/context"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	format := os.Getenv("LOG_FORMAT") // "json" or "console"
	if format == "" {
		format = "console"
	}

	if format == "json" {
		Logger = zerolog.New(w).With().Timestamp().Str("service", "history-service").Logger().Level(level)
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger().Level(level)
	}

	zlog.Logger = Logger
}

// WithCtx returns the global logger enriched with the request id carried by ctx.
func WithCtx(ctx context.Context) zerolog.Logger {
	if rid := appCtx.GetRequestID(ctx); rid != "" {
		return Logger.With().Str("request_id", rid).Logger()
	}
	return Logger
}
