package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadShardPairsEntries(t *testing.T) {
	buf := buildShard(t, []filePair{
		{key: "000001", imageExt: ".jpg", image: []byte("jpeg"), label: 3},
		{key: "000002", imageExt: ".png", image: []byte("png"), label: 1},
	})
	shard := filepath.Join(t.TempDir(), "flowers_validation-000000.tar")
	require.NoError(t, os.WriteFile(shard, buf.Bytes(), 0o644))

	var got []Record
	err := ReadShard(context.Background(), shard, 4, func(r Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "000001", got[0].Key)
	require.Equal(t, "jpg", got[0].Format)
	require.Equal(t, 3, got[0].Label)
	require.Equal(t, 1, got[1].Label)
}

func TestReadShardIncomplete(t *testing.T) {
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	addTarEntry(t, tw, "000001.jpg", []byte("jpeg"))
	require.NoError(t, tw.Close())
	shard := filepath.Join(t.TempDir(), "flowers_validation-000000.tar")
	require.NoError(t, os.WriteFile(shard, buf.Bytes(), 0o644))

	err := ReadShard(context.Background(), shard, 4, func(Record) error { return nil })
	require.Error(t, err)
}

func TestGetWebDatasetShards(t *testing.T) {
	dir := t.TempDir()
	img := pngBytes(t, 2, 2, color.RGBA{B: 255, A: 255})
	buf := buildShard(t, []filePair{{key: "a", imageExt: ".png", image: img, label: 2}})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowers_validation-000000.tar"), buf.Bytes(), 0o644))

	ds, err := Get("flowers", "validation", dir)
	require.NoError(t, err)
	require.Len(t, ds.Files, 1)
	require.Equal(t, FormatWebDataset, FormatOf(ds.Files[0]))
}

type filePair struct {
	key      string
	imageExt string
	image    []byte
	label    int
}

func buildShard(t *testing.T, pairs []filePair) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, pair := range pairs {
		addTarEntry(t, tw, pair.key+pair.imageExt, pair.image)
		addTarEntry(t, tw, pair.key+".cls", []byte(strconv.Itoa(pair.label)))
	}
	require.NoError(t, tw.Close())
	return buf
}

func addTarEntry(t *testing.T, tw *tar.Writer, name string, data []byte) {
	t.Helper()
	hdr := &tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}
	require.NoError(t, tw.WriteHeader(hdr))
	_, err := tw.Write(data)
	require.NoError(t, err)
}
