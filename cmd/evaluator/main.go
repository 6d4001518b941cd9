package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	logLevel, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		level, err := log.ParseLevel(logLevel)
		if err == nil {
			log.SetLevel(level)
		} else {
			log.Warn("Invalid log level. Defaulting to Info level.")
			log.SetLevel(log.InfoLevel)
		}
	} else {
		log.SetLevel(log.InfoLevel)
	}

	initRun()
	initConvert()
	initLatestCheckpoint()
}

var rootCmd = &cobra.Command{
	Use:   "evaluator",
	Short: "Evaluate image classification checkpoints",
	Long: `Evaluate an exported image classification checkpoint on a dataset split,
printing streaming accuracy and recall@5 and rendering predictions against
ground truth.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("evaluator failed")
		os.Exit(1)
	}
}
