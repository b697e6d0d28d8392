package cmd

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlements/config"
)

func configureLogging(cfg *config.Config) error {
	logrus.SetOutput(os.Stdout)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Log.Level))
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	return nil
}
