// Command movie-backfill fills empty movie metadata from the metadata API.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("Backfill failed")
		os.Exit(1)
	}
}
