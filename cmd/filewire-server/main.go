// Command filewire-server runs the file transfer server.
//
// Usage:
//
//	filewire-server [port]
//
// The optional port argument overrides the default 8080. An
// unparseable port falls back to the default with a warning.
package main

import (
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/server"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg := server.DefaultConfig()
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			logrus.WithFields(logrus.Fields{
				"function": "main",
				"argument": os.Args[1],
				"fallback": cfg.Port,
			}).Warn("Invalid port argument, using default")
		} else {
			cfg.Port = port
		}
	}

	srv, err := server.New(cfg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Failed to start server")
	}
	defer srv.Close()

	if err := srv.Run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Server stopped")
	}
}
