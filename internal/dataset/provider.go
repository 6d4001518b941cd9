package dataset

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// ProviderOptions configures the common record queue.
type ProviderOptions struct {
	// Capacity bounds the number of records buffered ahead of consumers.
	Capacity int
	// MinFill is the number of records queued before the first Get returns.
	MinFill int
	// Repeat restarts from the first file after the last one, indefinitely.
	Repeat bool
}

// Provider reads records from every file of a dataset in order, without
// shuffling, into a bounded queue shared by concurrent consumers.
type Provider struct {
	ds      *Dataset
	opts    ProviderOptions
	records chan Record
	ready   chan struct{}
	done    chan struct{}

	readyOnce sync.Once
	startOnce sync.Once
	mu        sync.Mutex
	err       error
}

// NewProvider builds a provider over ds. Start must be called before Get.
func NewProvider(ds *Dataset, opts ProviderOptions) *Provider {
	if opts.Capacity <= 0 {
		opts.Capacity = 1
	}
	if opts.MinFill > opts.Capacity {
		opts.MinFill = opts.Capacity
	}
	return &Provider{
		ds:      ds,
		opts:    opts,
		records: make(chan Record, opts.Capacity),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the reader goroutine. It stops when ctx is cancelled or
// every file has been read, unless Repeat is set.
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.run(ctx)
	})
}

func (p *Provider) run(ctx context.Context) {
	defer close(p.done)
	defer p.markReady()
	defer close(p.records)

	sent := 0
	emit := func(rec Record) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p.records <- rec:
		}
		sent++
		if sent >= p.opts.MinFill {
			p.markReady()
		}
		return nil
	}

	for {
		before := sent
		for _, path := range p.ds.Files {
			var err error
			switch FormatOf(path) {
			case FormatWebDataset:
				err = ReadShard(ctx, path, defaultPendingCap, emit)
			default:
				err = ReadRecordFile(ctx, path, emit)
			}
			if err != nil {
				if ctx.Err() == nil {
					p.setErr(err)
				}
				return
			}
			log.WithFields(log.Fields{"file": path, "records": sent}).Debug("dataset file read")
		}
		if !p.opts.Repeat || sent == before {
			return
		}
	}
}

func (p *Provider) markReady() {
	p.readyOnce.Do(func() { close(p.ready) })
}

func (p *Provider) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Err returns the error that stopped the reader, if any.
func (p *Provider) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Get returns the next record. ok is false once the dataset is exhausted;
// err is then the reader error, if the reader failed.
func (p *Provider) Get(ctx context.Context) (rec Record, ok bool, err error) {
	select {
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	case <-p.ready:
	}
	select {
	case <-ctx.Done():
		return Record{}, false, ctx.Err()
	case rec, ok = <-p.records:
		if !ok {
			return Record{}, false, p.Err()
		}
		return rec, true, nil
	}
}

// Wait blocks until the reader goroutine has exited.
func (p *Provider) Wait() {
	<-p.done
}
