package feed

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/thnyheim/misp2bro/internal/model"
)

const defaultBufSize = 64 * 1024

// Row renders r as a tab-separated feed line without the newline.
func Row(r model.IndicatorRecord) string {
	notice := "F"
	if r.DoNotice {
		notice = "T"
	}
	return strings.Join([]string{r.Indicator, r.Type.String(), r.SourceLabel, r.SourceURL, notice, r.IfIn}, "\t")
}

// WriteTo renders the header followed by one row per record.
func (d *Document) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriterSize(w, defaultBufSize)
	var n int64
	write := func(s string) error {
		c, err := bw.WriteString(s)
		n += int64(c)
		return err
	}
	header := d.Header
	if header == "" {
		header = Header
	}
	if err := write(header + "\n"); err != nil {
		return n, err
	}
	for _, r := range d.Records {
		if err := write(Row(r) + "\n"); err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}

// Writer persists documents at a fixed path. The file is replaced atomically
// so a sensor sync never picks up a half-written feed.
type Writer struct {
	path string
}

func NewWriter(path string) *Writer {
	return &Writer{path: path}
}

func (w *Writer) Path() string { return w.path }

func (w *Writer) Write(doc *Document) (int64, error) {
	if dir := filepath.Dir(w.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("feed: create dir: %w", err)
		}
	}
	tmp := w.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("feed: open %s: %w", tmp, err)
	}
	n, err := doc.WriteTo(f)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return n, fmt.Errorf("feed: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("feed: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("feed: rename %s: %w", tmp, err)
	}
	return n, nil
}
