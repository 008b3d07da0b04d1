package source

import (
	"context"

	"github.com/thnyheim/misp2bro/internal/model"
)

// Fetcher downloads the raw export to a local file.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, dst string) (int64, error)
}

// Parser reads a downloaded export into events.
type Parser interface {
	ParseFile(ctx context.Context, path string) ([]model.Event, error)
}
