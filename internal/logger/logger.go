package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func Init() {
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
	log.Info("logger initialized")
}

// SetDebug toggles debug-level output.
func SetDebug(on bool) {
	if on {
		log.SetLevel(logrus.DebugLevel)
		return
	}
	log.SetLevel(logrus.InfoLevel)
}

func Debug(msg string, fields map[string]any) {
	log.WithFields(logrus.Fields(fields)).Debug(msg)
}

func Info(msg string, fields map[string]any) {
	log.WithFields(logrus.Fields(fields)).Info(msg)
}

func Warn(msg string, fields map[string]any) {
	log.WithFields(logrus.Fields(fields)).Warn(msg)
}

func Error(msg string, fields map[string]any) {
	log.WithFields(logrus.Fields(fields)).Error(msg)
}

func Fatal(msg string, fields map[string]any) {
	log.WithFields(logrus.Fields(fields)).Fatal(msg)
}
