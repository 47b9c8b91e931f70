package gbif

import "github.com/lightvibes/biomap/internal/logger"

// GetLogger returns the gbif package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("gbif")
}
