package main

import (
	"github.com/OFFIS-RIT/ingest/backend/internal/server"
	"github.com/OFFIS-RIT/ingest/backend/internal/util"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger"
	"github.com/OFFIS-RIT/ingest/backend/pkg/logger/console"
)

func main() {
	util.LoadEnv()

	consoleLogger := console.New(console.Params{
		Debug: util.GetEnvBool("DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)

	server.Init()
}
