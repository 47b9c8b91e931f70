package playback

import "github.com/lightvibes/biomap/internal/logger"

// GetLogger returns the playback package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("playback")
}
