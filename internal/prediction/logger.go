package prediction

import "github.com/lightvibes/biomap/internal/logger"

// GetLogger returns the prediction package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("prediction")
}
