package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rewired-gh/retroeval/internal/logger"
	"github.com/rewired-gh/retroeval/internal/models"
)

// Options selects which artifacts a Writer produces.
type Options struct {
	OutputDir string
	CSV       bool
	LaTeX     bool
	Plots     bool
	Precision int
}

// Writer saves tables and charts under an output directory.
type Writer struct {
	opts Options
}

func NewWriter(opts Options) *Writer {
	return &Writer{opts: opts}
}

func (w *Writer) PlotsEnabled() bool {
	return w.opts.Plots
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName turns a scenario key or table name into a file-system safe stem.
func FileName(name string) string {
	return strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
}

// WriteTable writes t as <name>.csv and/or <name>.tex and returns the paths written.
func (w *Writer) WriteTable(name string, t *models.Table) ([]string, error) {
	var paths []string
	if w.opts.CSV {
		path, err := w.create(name+".csv", func(f io.Writer) error {
			return WriteCSV(f, t, w.opts.Precision)
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	if w.opts.LaTeX {
		path, err := w.create(name+".tex", func(f io.Writer) error {
			return WriteLaTeX(f, t, w.opts.Precision)
		})
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// WriteChart writes <name>.html using render. It does nothing when plots are disabled.
func (w *Writer) WriteChart(name string, render func(io.Writer) error) (string, error) {
	if !w.opts.Plots {
		return "", nil
	}
	return w.create(name+".html", render)
}

func (w *Writer) create(file string, render func(io.Writer) error) (string, error) {
	if err := os.MkdirAll(w.opts.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(w.opts.OutputDir, FileName(strings.TrimSuffix(file, filepath.Ext(file)))+filepath.Ext(file))

	// Write to a temp file then rename so readers never see a partial report
	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", tempPath, err)
	}
	if err := render(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to render %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tempPath)
		return "", err
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return "", fmt.Errorf("failed to rename %s: %w", tempPath, err)
	}
	logger.Debug("Wrote %s", path)
	return path, nil
}
