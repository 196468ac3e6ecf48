// Package datafile manages the lifecycle of dump data files.
//
// Records are appended to a file under <dir>/staging. Once the file reaches its
// size limit it is closed and renamed into <dir>/final, where consumers only
// ever see complete files.
package datafile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	StagingDir = "staging"
	FinalDir   = "final"

	// Extension of every data file, followed by ZstdExtension when compressed.
	Extension     = ".dat"
	ZstdExtension = ".zst"
)

const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

var ErrClosed = errors.New("datafile: writer closed")

// File describes a finalized data file.
type File struct {
	Path    string // Path under the final directory
	Name    string
	Host    string
	Records int
	Bytes   int64 // Uncompressed record bytes
}

// Config configures a Writer.
type Config struct {
	// Dir holds the staging and final directories.
	Dir string

	// Prefix starts every file name, followed by a sequence number.
	Prefix string

	// Host is reported in every File.
	Host string

	// MaxFileSize finalizes a file once its uncompressed size reaches it.
	// Zero means a single file.
	MaxFileSize int64

	// Compression is CompressionNone or CompressionZstd.
	Compression string

	// Extension ends every file name, before ZstdExtension. Default: Extension
	Extension string

	// OnFinalize is called with every finalized file, from the goroutine
	// calling Append or Close. An error fails that call.
	OnFinalize func(File) error
}

// Writer appends records to rotating data files.
// It is not safe for concurrent use.
type Writer struct {
	config  Config
	seq     int
	closed  bool
	encoder *zstd.Encoder

	// current file, nil between files
	file    *os.File
	buf     *bufio.Writer
	staging string
	current File
}

// NewWriter creates the staging and final directories.
func NewWriter(config Config) (*Writer, error) {
	switch config.Compression {
	case "", CompressionNone, CompressionZstd:
	default:
		return nil, fmt.Errorf("datafile: unknown compression %q", config.Compression)
	}

	for _, dir := range []string{StagingDir, FinalDir} {
		if err := os.MkdirAll(filepath.Join(config.Dir, dir), 0o755); err != nil {
			return nil, fmt.Errorf("datafile: create %s directory: %w", dir, err)
		}
	}
	return &Writer{config: config}, nil
}

// Append writes one encoded record. The record never spans two files.
func (w *Writer) Append(record []byte) error {
	if w.closed {
		return ErrClosed
	}
	if w.file == nil {
		if err := w.open(); err != nil {
			return err
		}
	}

	if _, err := w.buf.Write(record); err != nil {
		return fmt.Errorf("datafile: write %s: %w", w.staging, err)
	}
	w.current.Records++
	w.current.Bytes += int64(len(record))

	if w.config.MaxFileSize > 0 && w.current.Bytes >= w.config.MaxFileSize {
		return w.finalize()
	}
	return nil
}

// Close finalizes the current file. A file without records is removed.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file == nil {
		return nil
	}
	if w.current.Records == 0 {
		_ = w.file.Close()
		w.file = nil
		return os.Remove(w.staging)
	}
	return w.finalize()
}

// Abort closes the current file and removes it from staging.
func (w *Writer) Abort() error {
	w.closed = true
	if w.file == nil {
		return nil
	}
	_ = w.file.Close()
	w.file = nil
	return os.Remove(w.staging)
}

func (w *Writer) open() error {
	w.seq++
	ext := w.config.Extension
	if ext == "" {
		ext = Extension
	}
	name := fmt.Sprintf("%s_%04d%s", w.config.Prefix, w.seq, ext)
	if w.config.Compression == CompressionZstd {
		name += ZstdExtension
	}
	w.staging = filepath.Join(w.config.Dir, StagingDir, name)

	f, err := os.Create(w.staging)
	if err != nil {
		return fmt.Errorf("datafile: create %s: %w", w.staging, err)
	}
	w.file = f
	w.current = File{Name: name, Host: w.config.Host}

	var dst io.Writer = f
	if w.config.Compression == CompressionZstd {
		if w.encoder == nil {
			w.encoder, err = zstd.NewWriter(f)
			if err != nil {
				_ = f.Close()
				return fmt.Errorf("datafile: zstd encoder: %w", err)
			}
		} else {
			w.encoder.Reset(f)
		}
		dst = w.encoder
	}

	if w.buf == nil {
		w.buf = bufio.NewWriterSize(dst, 256<<10)
	} else {
		w.buf.Reset(dst)
	}
	return nil
}

func (w *Writer) finalize() error {
	f := w.file
	w.file = nil

	err := w.buf.Flush()
	if err == nil && w.encoder != nil && w.config.Compression == CompressionZstd {
		err = w.encoder.Close()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("datafile: finalize %s: %w", w.staging, err)
	}

	final := filepath.Join(w.config.Dir, FinalDir, w.current.Name)
	if err := os.Rename(w.staging, final); err != nil {
		return fmt.Errorf("datafile: finalize %s: %w", w.staging, err)
	}
	w.current.Path = final

	if w.config.OnFinalize != nil {
		return w.config.OnFinalize(w.current)
	}
	return nil
}

// Open opens a data file for reading, decompressing it when its name ends
// with ZstdExtension.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ZstdExtension) {
		return f, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("datafile: zstd decoder: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, file: f}, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	file *os.File
}

func (r *zstdReadCloser) Close() error {
	r.Decoder.Close()
	return r.file.Close()
}
