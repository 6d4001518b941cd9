package pipeline

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/slim-eval/internal/dataset"
	"github.com/Brownie44l1/slim-eval/internal/preprocessing"
)

// ErrExhausted is returned by Next when no examples remain.
var ErrExhausted = errors.New("pipeline: dataset exhausted")

// Batch holds three index-aligned sequences: element i of Images, Labels
// and Raw come from the same record.
type Batch struct {
	Keys   []string
	Images []preprocessing.Tensor
	Labels []int
	Raw    []*image.RGBA
}

// Len returns the number of examples in the batch.
func (b Batch) Len() int {
	return len(b.Labels)
}

// RecordSource yields encoded records to the preprocessing workers.
type RecordSource interface {
	Start(ctx context.Context)
	Get(ctx context.Context) (dataset.Record, bool, error)
	Wait()
}

// SourceOptions configures the preprocessing pool and the batch queue.
type SourceOptions struct {
	BatchSize    int
	NumThreads   int
	Capacity     int
	LabelsOffset int
	NumClasses   int
	ImageSize    int
	Preprocess   preprocessing.Fn
}

type example struct {
	key   string
	image preprocessing.Tensor
	label int
	raw   *image.RGBA
}

// Source batches preprocessed examples produced by a pool of workers.
type Source struct {
	records  RecordSource
	opts     SourceOptions
	examples chan example
	errCh    chan error

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSource wires records into a pool of opts.NumThreads workers feeding a
// queue of opts.Capacity examples.
func NewSource(records RecordSource, opts SourceOptions) *Source {
	if opts.NumThreads <= 0 {
		opts.NumThreads = 1
	}
	if opts.Capacity < opts.BatchSize {
		opts.Capacity = opts.BatchSize
	}
	return &Source{
		records:  records,
		opts:     opts,
		examples: make(chan example, opts.Capacity),
		errCh:    make(chan error, opts.NumThreads),
	}
}

// Start launches the record reader and the workers.
func (s *Source) Start(parent context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel
	s.records.Start(ctx)

	for i := 0; i < s.opts.NumThreads; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker(ctx)
		}()
	}
	go func() {
		s.wg.Wait()
		close(s.examples)
	}()
}

// Stop cancels the workers and waits for every goroutine to exit.
func (s *Source) Stop() {
	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	s.wg.Wait()
	s.records.Wait()
}

func (s *Source) worker(ctx context.Context) {
	for {
		rec, ok, err := s.records.Get(ctx)
		if err != nil {
			s.report(ctx, err)
			return
		}
		if !ok {
			return
		}
		ex, err := s.process(rec)
		if err != nil {
			s.report(ctx, err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case s.examples <- ex:
		}
	}
}

func (s *Source) report(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Source) process(rec dataset.Record) (example, error) {
	label := rec.Label - s.opts.LabelsOffset
	if label < 0 || label >= s.opts.NumClasses {
		return example{}, errors.Errorf("record %s: label %d outside [0, %d) after offset %d",
			rec.Key, label, s.opts.NumClasses, s.opts.LabelsOffset)
	}
	img, _, err := image.Decode(bytes.NewReader(rec.Image))
	if err != nil {
		return example{}, errors.Wrapf(err, "record %s: decode %s image", rec.Key, rec.Format)
	}
	size := s.opts.ImageSize
	tensor, err := s.opts.Preprocess(img, size, size)
	if err != nil {
		return example{}, errors.Wrapf(err, "record %s: preprocess", rec.Key)
	}
	return example{
		key:   rec.Key,
		image: tensor,
		label: label,
		raw:   preprocessing.ResizeForDisplay(img, size, size),
	}, nil
}

// Next blocks until a full batch is available. A dataset that ends midway
// through a batch is an error.
func (s *Source) Next(ctx context.Context) (Batch, error) {
	n := s.opts.BatchSize
	b := Batch{
		Keys:   make([]string, 0, n),
		Images: make([]preprocessing.Tensor, 0, n),
		Labels: make([]int, 0, n),
		Raw:    make([]*image.RGBA, 0, n),
	}
	for b.Len() < n {
		select {
		case <-ctx.Done():
			return Batch{}, ctx.Err()
		case err := <-s.errCh:
			return Batch{}, err
		case ex, ok := <-s.examples:
			if !ok {
				select {
				case err := <-s.errCh:
					return Batch{}, err
				default:
				}
				if b.Len() == 0 {
					return Batch{}, ErrExhausted
				}
				return Batch{}, errors.Errorf("pipeline: dataset ended with a partial batch of %d/%d", b.Len(), n)
			}
			b.Keys = append(b.Keys, ex.key)
			b.Images = append(b.Images, ex.image)
			b.Labels = append(b.Labels, ex.label)
			b.Raw = append(b.Raw, ex.raw)
		}
	}
	return b, nil
}

// WithQueueRunners starts s, runs fn, and always stops and joins s before
// returning, whether fn returns normally, fails, or panics.
func WithQueueRunners(ctx context.Context, s *Source, fn func(ctx context.Context) error) error {
	s.Start(ctx)
	defer s.Stop()
	return fn(ctx)
}
