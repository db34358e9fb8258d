//	@title			PawDirectory Media API
//	@version		1.0
//	@description	Image uploads for pets, businesses and user profiles.
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				JWT Bearer token. Format: **Bearer {token}**

package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	_ "github.com/pawdirectory/media/docs/swagger"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}
