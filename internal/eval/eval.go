// Package eval restores a checkpoint and evaluates it on batches from the
// data pipeline.
package eval

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/Brownie44l1/slim-eval/internal/checkpoint"
	"github.com/Brownie44l1/slim-eval/internal/config"
	"github.com/Brownie44l1/slim-eval/internal/display"
	"github.com/Brownie44l1/slim-eval/internal/metrics"
	"github.com/Brownie44l1/slim-eval/internal/model"
	"github.com/Brownie44l1/slim-eval/internal/pipeline"
)

// MetricsTextfile is written to the eval dir after a full evaluation.
const MetricsTextfile = "metrics.prom"

// NumBatches returns ceil(samples / batchSize).
func NumBatches(samples, batchSize int) int {
	if batchSize <= 0 {
		return 0
	}
	return int(math.Ceil(float64(samples) / float64(batchSize)))
}

// Options configures an Evaluator.
type Options struct {
	Mode           string
	CheckpointPath string
	EvalDir        string
	Open           checkpoint.Opener
	Renderer       display.Renderer
	Prometheus     config.PrometheusConfig
	// Stdout receives the metric lines. Defaults to os.Stdout.
	Stdout io.Writer
}

// Result summarises a finished run.
type Result struct {
	Checkpoint  string
	GlobalStep  int64
	Batches     int
	Examples    int
	Scalars     []metrics.Scalar
	Predictions []display.Prediction
	Elapsed     time.Duration
}

// Evaluator runs the evaluation stage over pipeline inputs.
type Evaluator struct {
	in   *pipeline.Inputs
	opts Options

	globalStep *checkpoint.GlobalStep
	metrics    map[string]metrics.Metric
	values     map[string]metrics.ValueFn
	updates    map[string]metrics.UpdateFn
	summaries  metrics.Summaries

	numBatches     int
	checkpointPath string
	restore        checkpoint.Restorer
	classifier     model.Classifier
}

// New wires the metrics, summaries and restore function for in. The
// checkpoint path is resolved here, so a directory without checkpoints
// fails before any data is read.
func New(in *pipeline.Inputs, opts Options) (*Evaluator, error) {
	if in == nil || in.Source == nil {
		return nil, errors.New("eval: missing pipeline inputs")
	}
	if opts.Open == nil {
		return nil, errors.New("eval: no checkpoint opener")
	}
	if opts.Mode == "" {
		opts.Mode = config.ModeSingle
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Renderer == nil {
		opts.Renderer = display.LogRenderer{}
	}

	e := &Evaluator{
		in:         in,
		opts:       opts,
		globalStep: checkpoint.GetOrCreateGlobalStep(),
		metrics: map[string]metrics.Metric{
			"Accuracy": metrics.StreamingAccuracy(),
			"Recall_5": metrics.StreamingRecallAtK(5),
		},
	}
	e.values, e.updates = metrics.AggregateMetricMap(e.metrics)
	for _, name := range metrics.SortedNames(e.values) {
		e.summaries.AddScalar("eval/"+name, e.values[name])
	}

	e.numBatches = NumBatches(in.Dataset.NumSamples, in.BatchSize)

	path, err := checkpoint.Resolve(opts.CheckpointPath)
	if err != nil {
		return nil, err
	}
	e.checkpointPath = path

	vars := checkpoint.VariablesToRestore(in.Network, in.BatchSize, in.ImageSize)
	e.restore = checkpoint.AssignFromCheckpointFn(path, vars, opts.Open)
	return e, nil
}

// Checkpoint returns the resolved checkpoint file.
func (e *Evaluator) Checkpoint() string {
	return e.checkpointPath
}

// NumBatches returns the number of batches in one pass over the split.
func (e *Evaluator) NumBatches() int {
	return e.numBatches
}

// Attach implements checkpoint.Target.
func (e *Evaluator) Attach(classifier model.Classifier) {
	e.classifier = classifier
}

func (e *Evaluator) resetMetrics() {
	for _, m := range e.metrics {
		m.Reset()
	}
}

func (e *Evaluator) closeClassifier() {
	if e.classifier != nil {
		e.classifier.Close()
		e.classifier = nil
	}
}

// Run evaluates the checkpoint in the configured mode.
func (e *Evaluator) Run(ctx context.Context) (*Result, error) {
	switch e.opts.Mode {
	case config.ModeSingle:
		return e.runSingle(ctx)
	case config.ModeFull:
		return e.runFull(ctx)
	default:
		return nil, errors.Errorf("eval: unknown mode %q", e.opts.Mode)
	}
}

// runSingle pulls one batch, prints the metrics over it and renders every
// example against its ground truth. The renderer is closed on every path so
// whatever was rendered before a failure is still flushed.
func (e *Evaluator) runSingle(ctx context.Context) (_ *Result, err error) {
	start := time.Now()
	res := &Result{Checkpoint: e.checkpointPath}
	defer func() {
		closeErr := e.opts.Renderer.Close()
		if closeErr == nil {
			return
		}
		if err == nil {
			err = closeErr
			return
		}
		log.WithError(closeErr).Warn("close renderer")
	}()

	err = pipeline.WithQueueRunners(ctx, e.in.Source, func(ctx context.Context) error {
		e.resetMetrics()
		if err := e.restore(e); err != nil {
			return err
		}
		defer e.closeClassifier()

		batch, err := e.in.Source.Next(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch batch")
		}
		probabilities, predictions, err := e.step(batch)
		if err != nil {
			return err
		}

		res.Batches = 1
		res.Examples = batch.Len()
		res.GlobalStep = e.globalStep.Value()
		res.Scalars = e.summaries.Emit(e.opts.Stdout, res.GlobalStep)

		for i := range batch.Labels {
			p := e.prediction(i, batch, probabilities[i], predictions[i])
			if err := e.opts.Renderer.Render(p, batch.Raw[i]); err != nil {
				return err
			}
			res.Predictions = append(res.Predictions, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// runFull evaluates NumBatches batches and writes the summaries to the
// eval dir.
func (e *Evaluator) runFull(ctx context.Context) (*Result, error) {
	log.Infof("Evaluating %s", e.checkpointPath)

	start := time.Now()
	res := &Result{Checkpoint: e.checkpointPath}
	var window metrics.Window

	err := pipeline.WithQueueRunners(ctx, e.in.Source, func(ctx context.Context) error {
		e.resetMetrics()
		if err := e.restore(e); err != nil {
			return err
		}
		defer e.closeClassifier()

		for i := 0; i < e.numBatches; i++ {
			t0 := time.Now()
			batch, err := e.in.Source.Next(ctx)
			if err != nil {
				return errors.Wrapf(err, "fetch batch %d/%d", i+1, e.numBatches)
			}
			t1 := time.Now()
			if _, _, err := e.step(batch); err != nil {
				return errors.Wrapf(err, "batch %d/%d", i+1, e.numBatches)
			}
			window.Record(batch.Len(), t1.Sub(t0), time.Since(t1))
			res.Batches++
			res.Examples += batch.Len()

			if (i+1)%10 == 0 || i+1 == e.numBatches {
				snap := window.Snapshot()
				log.WithFields(log.Fields{
					"batch":          i + 1,
					"num_batches":    e.numBatches,
					"images_per_sec": snap.ImagesPerSec,
					"data_ms":        snap.AvgDataMS,
					"compute_ms":     snap.AvgComputeMS,
				}).Info("evaluation progress")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.GlobalStep = e.globalStep.Value()
	res.Scalars = e.summaries.Emit(e.opts.Stdout, res.GlobalStep)
	res.Elapsed = time.Since(start)

	if err := e.writeSummaries(res); err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{
		"checkpoint": e.checkpointPath,
		"batches":    res.Batches,
		"examples":   res.Examples,
		"elapsed":    res.Elapsed.Round(time.Millisecond),
	}).Info("Finished evaluation")
	return res, nil
}

// step runs one batch through the classifier and updates every metric.
func (e *Evaluator) step(batch pipeline.Batch) ([][]float32, []int, error) {
	if e.classifier == nil {
		return nil, nil, errors.New("eval: checkpoint not restored")
	}
	logits, err := e.classifier.Logits(batch.Images)
	if err != nil {
		return nil, nil, errors.Wrap(err, "compute logits")
	}
	if len(logits) != batch.Len() {
		return nil, nil, errors.Errorf("classifier returned %d rows for a batch of %d", len(logits), batch.Len())
	}
	probabilities := metrics.SoftmaxRows(logits)
	predictions := metrics.ArgMaxRows(probabilities)

	out := metrics.Outputs{Logits: logits, Predictions: predictions, Labels: batch.Labels}
	for _, name := range metrics.SortedNames(e.values) {
		if err := e.updates[name](out); err != nil {
			return nil, nil, errors.Wrapf(err, "update %s", name)
		}
	}
	return probabilities, predictions, nil
}

func (e *Evaluator) prediction(i int, batch pipeline.Batch, probabilities []float32, predicted int) display.Prediction {
	label := batch.Labels[i]
	trueName := e.in.Dataset.LabelName(label)
	predictedName := e.in.Dataset.LabelName(predicted)
	return display.Prediction{
		Index:         i,
		Key:           batch.Keys[i],
		Label:         label,
		TrueName:      trueName,
		Predicted:     predicted,
		PredictedName: predictedName,
		Probability:   probabilities[predicted],
		Title:         display.Title(trueName, predictedName),
	}
}

func (e *Evaluator) writeSummaries(res *Result) error {
	store, err := metrics.OpenStore(e.opts.EvalDir)
	if err != nil {
		return err
	}
	defer store.Close()

	run := metrics.NewRun(e.checkpointPath, e.in.Dataset.Name, e.in.Dataset.Split, e.in.Network.Name, e.numBatches)
	if err := store.WriteSummaries(run, res.Scalars); err != nil {
		return err
	}

	m := metrics.NewEvalMetrics(prometheus.Labels{
		"dataset": e.in.Dataset.Name,
		"split":   e.in.Dataset.Split,
		"model":   e.in.Network.Name,
	})
	m.Observe(res.Scalars, res.Examples, res.Elapsed)
	if err := m.WriteTextfile(filepath.Join(e.opts.EvalDir, MetricsTextfile)); err != nil {
		return err
	}

	prom := e.opts.Prometheus
	if prom.Enabled && prom.PushURL != "" {
		if err := m.Push(prom.PushURL, prom.JobName, prom.Timeout); err != nil {
			return err
		}
	}
	log.WithFields(log.Fields{"dir": e.opts.EvalDir, "run_id": run.ID}).Info("wrote summaries")
	return nil
}
