package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Brownie44l1/slim-eval/internal/checkpoint"
	"github.com/Brownie44l1/slim-eval/internal/config"
	"github.com/Brownie44l1/slim-eval/internal/display"
	"github.com/Brownie44l1/slim-eval/internal/eval"
	"github.com/Brownie44l1/slim-eval/internal/handlers"
	"github.com/Brownie44l1/slim-eval/internal/model"
	"github.com/Brownie44l1/slim-eval/internal/pipeline"
)

var (
	configPath    string
	presetName    string
	overrides     config.Overrides
	labelsOffset  int
	evalImageSize int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Restore a checkpoint and evaluate it",
	Long: `Restore the latest checkpoint (or the given checkpoint file), evaluate it on
the configured split and render the predictions. "--preset flowers" is the
default; pass "--preset none" to use only the defaults, config file and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolveConfig(cmd.Flags().Changed)
		if err != nil {
			return err
		}
		return runEvaluation(cfg)
	},
}

func initRun() {
	rootCmd.AddCommand(runCmd)
	f := runCmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.StringVar(&presetName, "preset", "flowers", "Scenario preset applied over the config file (flowers, none)")
	f.StringVar(&overrides.DatasetName, "dataset-name", "", "Dataset name")
	f.StringVar(&overrides.DatasetSplit, "dataset-split-name", "", "Dataset split")
	f.StringVar(&overrides.DatasetDir, "dataset-dir", "", "Directory holding the dataset record files")
	f.IntVar(&overrides.BatchSize, "batch-size", 0, "Examples per batch")
	f.IntVar(&labelsOffset, "labels-offset", 0, "Offset subtracted from every label")
	f.IntVar(&evalImageSize, "eval-image-size", 0, "Eval image size (default: network size)")
	f.StringVar(&overrides.PreprocessingName, "preprocessing-name", "", "Preprocessing (default: model name)")
	f.StringVar(&overrides.ModelName, "model-name", "", "Network architecture")
	f.IntVar(&overrides.NumPreprocessingThreads, "num-preprocessing-threads", 0, "Preprocessing workers")
	f.StringVar(&overrides.CheckpointPath, "checkpoint-path", "", "Checkpoint file or directory")
	f.StringVar(&overrides.EvalDir, "eval-dir", "", "Directory for summaries")
	f.StringVar(&overrides.Mode, "mode", "", "Evaluation mode (single, full)")
	f.StringVar(&overrides.DisplayDir, "display-dir", "", "Directory for rendered predictions (default: <eval-dir>/predictions)")
	f.StringVar(&overrides.OnnxRuntimeLib, "onnxruntime-lib", "", "Path to the ONNX Runtime shared library")
	f.StringVar(&overrides.Serve, "serve", "", "Serve the prediction gallery on this address after a single-batch run")
	f.StringVar(&overrides.PushURL, "push-url", "", "Prometheus push gateway URL (full mode)")
}

// resolveConfig applies, in order: defaults, config file, preset, flags.
// changed reports whether a flag was set on the command line.
func resolveConfig(changed func(string) bool) (*config.Config, error) {
	cfg := config.New()
	var fromFile *config.Config
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		snapshot := *loaded
		fromFile = &snapshot
		cfg = loaded
	}
	if err := cfg.ApplyPreset(presetName); err != nil {
		return nil, err
	}
	if fromFile != nil {
		if replaced := presetReplaced(config.New(), fromFile, cfg); len(replaced) > 0 {
			replaced["preset"] = presetName
			log.WithFields(replaced).Info("preset replaced values from config file")
		}
	}

	o := overrides
	if changed("labels-offset") {
		o.LabelsOffset = &labelsOffset
	}
	if changed("eval-image-size") {
		o.EvalImageSize = &evalImageSize
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

// presetReplaced lists the fields the config file set away from the
// defaults that the preset then changed.
func presetReplaced(defaults, fromFile, applied *config.Config) log.Fields {
	fields := log.Fields{}
	check := func(name, def, file, got string) {
		if file != def && got != file {
			fields[name] = file
		}
	}
	check("dataset_name", defaults.DatasetName, fromFile.DatasetName, applied.DatasetName)
	check("dataset_split_name", defaults.DatasetSplit, fromFile.DatasetSplit, applied.DatasetSplit)
	check("dataset_dir", defaults.DatasetDir, fromFile.DatasetDir, applied.DatasetDir)
	check("model_name", defaults.ModelName, fromFile.ModelName, applied.ModelName)
	check("checkpoint_path", defaults.CheckpointPath, fromFile.CheckpointPath, applied.CheckpointPath)
	check("eval_dir", defaults.EvalDir, fromFile.EvalDir, applied.EvalDir)
	return fields
}

func runEvaluation(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := pipeline.Load(cfg)
	if err != nil {
		return err
	}

	var renderer display.Renderer = display.LogRenderer{}
	if cfg.Mode == config.ModeSingle {
		pngRenderer, err := display.NewPNGRenderer(cfg.PredictionsDir())
		if err != nil {
			return err
		}
		renderer = pngRenderer
	}

	evaluator, err := eval.New(in, eval.Options{
		Mode:           cfg.Mode,
		CheckpointPath: cfg.CheckpointPath,
		EvalDir:        cfg.EvalDir,
		Open:           checkpoint.ONNXOpener(cfg.OnnxRuntimeLib),
		Renderer:       renderer,
		Prometheus:     cfg.Prometheus,
	})
	if err != nil {
		return err
	}
	defer model.DestroyEnvironment()

	res, err := evaluator.Run(ctx)
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"checkpoint":  res.Checkpoint,
		"global_step": res.GlobalStep,
		"examples":    res.Examples,
		"elapsed":     res.Elapsed.Round(time.Millisecond),
	}).Info("evaluation done")

	if cfg.Serve != "" && cfg.Mode == config.ModeSingle {
		return serveGallery(ctx, cfg.Serve, cfg.PredictionsDir(), res.Checkpoint)
	}
	return nil
}

func serveGallery(ctx context.Context, addr, dir, ckpt string) error {
	mux := http.NewServeMux()
	handlers.NewHandler(dir, ckpt).Routes(mux)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.WithField("addr", addr).Info("Serving predictions")
	log.Info("Endpoints:")
	log.Info("  GET /health            - Health check")
	log.Info("  GET /predictions       - Prediction manifest")
	log.Info("  GET /predictions/{i}.png - Rendered figure (optional ?size=N)")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve gallery")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
