package plink

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"golang.org/x/exp/mmap"
)

// Source is random-access storage holding a .bed payload.
type Source interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// OpenSource memory-maps a local file, or opens a gs://bucket/object URL
// with ranged reads.
func OpenSource(path string) (Source, error) {
	if IsRemote(path) {
		return openGCS(context.Background(), path)
	}
	r, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	return mmapSource{r}, nil
}

type mmapSource struct {
	*mmap.ReaderAt
}

func (m mmapSource) Size() int64 { return int64(m.Len()) }

// gcsSource decorates a Google Storage object handle with ReadAt.
type gcsSource struct {
	ctx    context.Context
	client *storage.Client
	obj    *storage.ObjectHandle
	size   int64
}

func openGCS(ctx context.Context, url string) (*gcsSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	obj, err := gsObject(client, url)
	if err != nil {
		client.Close()
		return nil, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("stat %s: %w", url, err)
	}
	return &gcsSource{ctx: ctx, client: client, obj: obj, size: attrs.Size}, nil
}

func (g *gcsSource) ReadAt(p []byte, off int64) (int, error) {
	rdr, err := g.obj.NewRangeReader(g.ctx, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rdr.Close()
	return io.ReadFull(rdr, p)
}

func (g *gcsSource) Size() int64 { return g.size }

func (g *gcsSource) Close() error { return g.client.Close() }

// IsRemote reports whether path names a gs:// object.
func IsRemote(path string) bool { return strings.HasPrefix(path, "gs://") }

func gsObject(client *storage.Client, url string) (*storage.ObjectHandle, error) {
	parts := strings.SplitN(strings.TrimPrefix(url, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("cannot split %q into bucket and object", url)
	}
	return client.Bucket(parts[0]).Object(parts[1]), nil
}

// gcsReadCloser closes the client along with the object reader.
type gcsReadCloser struct {
	io.ReadCloser
	client *storage.Client
}

func (g gcsReadCloser) Close() error {
	err := g.ReadCloser.Close()
	if cerr := g.client.Close(); err == nil {
		err = cerr
	}
	return err
}

// OpenText opens a sequential reader over a local path or gs:// URL.
func OpenText(path string) (io.ReadCloser, error) {
	return openText(path)
}

func openText(path string) (io.ReadCloser, error) {
	if !IsRemote(path) {
		return os.Open(path)
	}
	ctx := context.Background()
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}
	obj, err := gsObject(client, path)
	if err != nil {
		client.Close()
		return nil, err
	}
	rc, err := obj.NewReader(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return gcsReadCloser{ReadCloser: rc, client: client}, nil
}
