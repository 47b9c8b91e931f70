package narrative

import "github.com/lightvibes/biomap/internal/logger"

// GetLogger returns the narrative package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("narrative")
}
