package main

import (
	"os"

	"github.com/Brownie44l1/xray-api/internal/config"
	"github.com/Brownie44l1/xray-api/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := rootCommand(config.New()).Execute(); err != nil {
		logger.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
