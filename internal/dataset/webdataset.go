package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("webdataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// ReadShard streams paired records from a WebDataset tar shard, calling emit
// for every <key>.{jpg,jpeg,png} that has a matching <key>.cls entry.
func ReadShard(ctx context.Context, path string, pendingCap int, emit func(Record) error) error {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open shard")
	}
	defer f.Close()

	tr := tar.NewReader(bufio.NewReader(f))
	pending := make(map[string]*partial)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errors.Wrap(err, "read tar")
		}
		if hdr.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(hdr.Name)
		ext := strings.ToLower(filepath.Ext(name))
		key := strings.TrimSuffix(name, filepath.Ext(name))

		switch ext {
		case ".jpg", ".jpeg", ".png":
			data, err := io.ReadAll(tr)
			if err != nil {
				return errors.Wrapf(err, "read image %s", name)
			}
			part := pendingFor(pending, key)
			part.image = data
			part.format = strings.TrimPrefix(ext, ".")
		case ".cls":
			payload, err := io.ReadAll(tr)
			if err != nil {
				return errors.Wrapf(err, "read label %s", name)
			}
			label, err := strconv.Atoi(strings.TrimSpace(string(payload)))
			if err != nil {
				return errors.Wrapf(err, "parse label %s", name)
			}
			pendingFor(pending, key).label = &label
		default:
			continue
		}

		if len(pending) > pendingCap {
			return ErrPendingOverflow
		}

		if part := pending[key]; part.ready() {
			delete(pending, key)
			if err := emit(Record{Key: key, Image: part.image, Format: part.format, Label: *part.label}); err != nil {
				return err
			}
		}
	}

	if len(pending) > 0 {
		return errors.Errorf("webdataset: %d samples incomplete in %s", len(pending), path)
	}
	return nil
}

// ReadRecordFile streams every tf.Example of a TFRecord file.
func ReadRecordFile(ctx context.Context, path string, emit func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open tfrecord")
	}
	defer f.Close()

	rr := NewRecordReader(f)
	base := filepath.Base(path)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := rr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "%s record %d", base, i)
		}
		ex, err := DecodeExample(payload)
		if err != nil {
			return errors.Wrapf(err, "%s record %d", base, i)
		}
		rec, err := ex.ToRecord(base + ":" + strconv.Itoa(i))
		if err != nil {
			return err
		}
		if err := emit(rec); err != nil {
			return err
		}
	}
}

type partial struct {
	image  []byte
	format string
	label  *int
}

func pendingFor(pending map[string]*partial, key string) *partial {
	part := pending[key]
	if part == nil {
		part = &partial{}
		pending[key] = part
	}
	return part
}

func (p *partial) ready() bool {
	return p != nil && len(p.image) > 0 && p.label != nil
}
