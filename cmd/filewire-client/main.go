// Command filewire-client is the interactive file transfer client.
//
// Usage:
//
//	filewire-client [-host addr] [-port n] [-dir path]
package main

import (
	"flag"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/filewire/client"
)

func main() {
	cfg := client.DefaultConfig()
	flag.StringVar(&cfg.Host, "host", cfg.Host, "server address")
	flag.IntVar(&cfg.Port, "port", cfg.Port, "server port")
	flag.StringVar(&cfg.DownloadDir, "dir", cfg.DownloadDir, "directory for downloaded files")
	verbose := flag.Bool("v", false, "verbose logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	c, err := client.Dial(cfg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Could not connect")
	}
	defer c.Close()

	if err := c.Run(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "main",
			"error":    err.Error(),
		}).Fatal("Session ended")
	}
}
