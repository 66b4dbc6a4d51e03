package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	if err := app().Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("jobwatch failed")
	}
}
