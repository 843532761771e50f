package exporter

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/robotomize/browser-xunit/internal/registry"
)

type WriterOption func(*Writer)

// WriteToDir stores documents as files under pth.
func WriteToDir(pth string) WriterOption {
	return func(w *Writer) {
		w.pth = pth
	}
}

// WriteReportTo copies every document to writers as well.
func WriteReportTo(writers ...io.Writer) WriterOption {
	return func(w *Writer) {
		w.reportWriters = append(w.reportWriters, writers...)
	}
}

func WithWriterLogger(logger logrus.FieldLogger) WriterOption {
	return func(w *Writer) {
		w.logger = logger
	}
}

func NewWriter(opts ...WriterOption) *Writer {
	w := Writer{
		logger:  logrus.StandardLogger(),
		written: make(map[string]string),
	}
	for _, o := range opts {
		o(&w)
	}

	return &w
}

// Writer persists report documents. It is safe for concurrent use.
type Writer struct {
	pth           string
	reportWriters []io.Writer
	logger        logrus.FieldLogger

	mu      sync.Mutex
	written map[string]string
}

// FileName is the deterministic file name of a browser and file pair.
func FileName(b registry.Browser, file string) string {
	return fmt.Sprintf("TEST-%s_%s-%s.xml", sanitize(b.Name), sanitize(b.Version), sanitize(file))
}

// Persist writes content to the output directory, if any, and to the report writers.
func (w *Writer) Persist(ctx context.Context, b registry.Browser, file string, content []byte) error {
	// Check if the context is done to return early.
	if err := ctx.Err(); err != nil {
		return err
	}

	name := FileName(b, file)
	if err := w.echo(name, file, content); err != nil {
		return err
	}

	if w.pth == "" {
		return nil
	}

	if err := mkdir(w.pth); err != nil {
		return err
	}

	if err := writeFile(filepath.Join(w.pth, name), content); err != nil {
		return fmt.Errorf("writeFile: %w", err)
	}

	return nil
}

// echo registers name and copies content to the report writers.
func (w *Writer) echo(name, file string, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if prev, ok := w.written[name]; ok {
		w.logger.WithFields(
			logrus.Fields{
				"name":     name,
				"file":     file,
				"previous": prev,
			},
		).Warn("report file name collision, overwriting")
	}
	w.written[name] = file

	for _, rw := range w.reportWriters {
		if _, err := rw.Write(content); err != nil {
			return fmt.Errorf("report writer Write: %w", err)
		}
	}

	return nil
}

// Written returns the names of the persisted documents.
func (w *Writer) Written() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.written))
	for name := range w.written {
		names = append(names, name)
	}

	return names
}

// writeFile writes content to a temporary file next to pth and renames it, so
// readers never observe a partial document.
func writeFile(pth string, content []byte) (err error) {
	tmp := filepath.Join(filepath.Dir(pth), fmt.Sprintf(".%s.tmp", uuid.New().String()))

	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("os.OpenFile: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = file.Write(content); err != nil {
		_ = file.Close()
		return fmt.Errorf("os.OpenFile Write: %w", err)
	}

	// Sync the file to disk to ensure the data is actually written.
	if err = file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("os.OpenFile Sync: %w", err)
	}

	if err = file.Close(); err != nil {
		return fmt.Errorf("os.OpenFile Close: %w", err)
	}

	if err = os.Rename(tmp, pth); err != nil {
		return fmt.Errorf("os.Rename: %w", err)
	}

	return nil
}
