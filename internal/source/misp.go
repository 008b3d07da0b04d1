package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/thnyheim/misp2bro/internal/config"
	errs "github.com/thnyheim/misp2bro/internal/errors"
	"github.com/thnyheim/misp2bro/internal/util"
)

// APIError is a non-2xx answer from MISP.
type APIError struct {
	StatusCode int
	Body       string // first 512 bytes
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

type mispSource struct {
	cfg    config.MISPConfig
	client *http.Client
}

func NewMISPSource(cfg config.MISPConfig) *mispSource {
	to := cfg.Timeout
	if to == 0 {
		to = 60 * time.Second
	}
	return &mispSource{cfg: cfg, client: util.NewHTTPClient(to, cfg.InsecureSkipVerify)}
}

func (m *mispSource) Name() string { return "misp" }

func (m *mispSource) URL() string { return m.cfg.ExportURL() }

// Fetch streams the export body verbatim into dst. The previous export stays
// in place unless the whole body arrived.
func (m *mispSource) Fetch(ctx context.Context, dst string) (int64, error) {
	u := m.URL()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, errs.Wrap(errs.StageFetch, u, err)
	}
	req.Header.Set("Authorization", m.cfg.APIKey)
	req.Header.Set("Accept", "application/xml")
	if ua := m.cfg.UserAgent; ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, errs.Wrap(errs.StageFetch, u, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, errs.Wrap(errs.StageFetch, u, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))})
	}

	if dir := filepath.Dir(dst); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, errs.Wrapf(errs.StageWrite, dst, err, "create export dir")
		}
	}
	tmp := dst + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, errs.Wrap(errs.StageWrite, tmp, err)
	}
	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		// io.Copy errors here come from the response body, not the file.
		return n, errs.Wrapf(errs.StageFetch, u, err, "read body")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return n, errs.Wrap(errs.StageWrite, tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return n, errs.Wrap(errs.StageWrite, dst, err)
	}
	return n, nil
}
