package configuration

import (
	"os"

	"github.com/joho/godotenv"

	"tiktok-publisher/infrastructure/logger"
)

// LoadEnvFromFile loads KEY=VALUE pairs from the given files when present.
// Variables already set in the process environment are not overridden.
func LoadEnvFromFile(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			logger.GetLogger().WithField("file", p).Debug("env file not found")
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.GetLogger().WithField("file", p).WithField("error", err).Warn("failed loading env file")
			continue
		}
		logger.GetLogger().WithField("file", p).Info("Loaded env file")
	}
}
