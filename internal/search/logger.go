package search

import "github.com/lightvibes/biomap/internal/logger"

// GetLogger returns the search package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("search")
}
