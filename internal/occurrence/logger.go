package occurrence

import "github.com/lightvibes/biomap/internal/logger"

// GetLogger returns the occurrence package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("occurrence")
}
