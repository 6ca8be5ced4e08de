// Package pheno reads phenotype, covariate and causal-variant tables and
// writes prediction tables. Inputs may be local or gs:// objects and may be
// gzip or xz compressed; the column delimiter is detected from the content.
package pheno

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"

	"github.com/csimplestring/go-csv/detector"
	"github.com/xi2/xz"

	"github.com/genopred/genopred/genomic/plink"
)

type compression byte

const (
	compressionNone compression = iota
	compressionGzip
	compressionXZ
)

var signatures = map[compression][]byte{
	compressionGzip: {0x1f, 0x8b, 0x08},
	compressionXZ:   {0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00},
}

func detectCompression(head []byte) compression {
	for c, sig := range signatures {
		if bytes.HasPrefix(head, sig) {
			return c
		}
	}
	return compressionNone
}

// readCloser closes the underlying file after the decompressor.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r readCloser) Close() error {
	var err error
	for _, c := range r.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// Open returns the decompressed contents of a local path or gs:// URL.
func Open(path string) (io.ReadCloser, error) {
	raw, err := plink.OpenText(path)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(raw)
	head, _ := br.Peek(6)
	switch detectCompression(head) {
	case compressionGzip:
		gz, err := gzip.NewReader(br)
		if err != nil {
			raw.Close()
			return nil, err
		}
		return readCloser{Reader: gz, closers: []io.Closer{gz, raw}}, nil
	case compressionXZ:
		xr, err := xz.NewReader(br, 0)
		if err != nil {
			raw.Close()
			return nil, err
		}
		return readCloser{Reader: xr, closers: []io.Closer{raw}}, nil
	}
	return readCloser{Reader: br, closers: []io.Closer{raw}}, nil
}

// preferredDelimiters breaks ties between detected candidates.
var preferredDelimiters = []rune{'\t', ',', ';', ' '}

// detectDelimiter returns the column delimiter of a text table, or ' ' when
// columns are separated by runs of whitespace.
func detectDelimiter(sample []byte) rune {
	found := make(map[rune]bool)
	for _, d := range detector.New().DetectDelimiter(bytes.NewReader(sample), '"') {
		if d != "" {
			found[rune(d[0])] = true
		}
	}
	for _, d := range preferredDelimiters {
		if found[d] {
			return d
		}
	}
	return ' '
}
