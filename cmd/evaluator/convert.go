package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/slim-eval/internal/checkpoint"
	"github.com/Brownie44l1/slim-eval/internal/dataset"
)

var convertOpts dataset.ConvertOptions

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert a folder of class directories into TFRecord shards",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := dataset.ConvertFolder(convertOpts)
		if err != nil {
			return err
		}
		log.WithFields(log.Fields{
			"files":       len(res.Files),
			"num_samples": res.NumSamples,
			"num_classes": len(res.Labels),
			"output_dir":  convertOpts.OutputDir,
		}).Info("conversion done")
		return nil
	},
}

func initConvert() {
	rootCmd.AddCommand(convertCmd)
	f := convertCmd.Flags()
	f.StringVar(&convertOpts.SourceDir, "source-dir", "", "Directory with one sub-directory of images per class")
	f.StringVar(&convertOpts.OutputDir, "output-dir", "", "Directory for the record shards and labels.txt")
	f.StringVar(&convertOpts.Name, "dataset-name", "flowers", "Dataset name used in shard file names")
	f.StringVar(&convertOpts.Split, "split", "validation", "Split used in shard file names")
	f.IntVar(&convertOpts.NumShards, "num-shards", 1, "Number of shards")
	convertCmd.MarkFlagRequired("source-dir")
	convertCmd.MarkFlagRequired("output-dir")
}

var latestCheckpointCmd = &cobra.Command{
	Use:   "latest-checkpoint <path>",
	Short: "Print the checkpoint a path resolves to",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := checkpoint.Resolve(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func initLatestCheckpoint() {
	rootCmd.AddCommand(latestCheckpointCmd)
}
