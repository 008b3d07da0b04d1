// Package digest computes content digests of export files for change detection.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"
)

// ChunkSize bounds how much of the input is held in memory at once.
const ChunkSize = 64 * 1024

const DefaultAlgorithm = "sha256"

var algorithms = map[string]func() hash.Hash{
	"md5":    md5.New,
	"sha1":   sha1.New,
	"sha256": sha256.New,
	"sha512": sha512.New,
}

// Algorithms lists the supported algorithm names.
func Algorithms() []string {
	out := make([]string, 0, len(algorithms))
	for k := range algorithms {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Hasher produces hex digests with a fixed algorithm. The algorithm must stay
// the same across runs or every run will look like a change.
type Hasher struct {
	name   string
	newFn  func() hash.Hash
	bufLen int
}

// New returns a Hasher for the named algorithm ("" means sha256).
func New(algorithm string) (*Hasher, error) {
	name := strings.ToLower(strings.TrimSpace(algorithm))
	if name == "" {
		name = DefaultAlgorithm
	}
	fn, ok := algorithms[name]
	if !ok {
		return nil, fmt.Errorf("unsupported hash algorithm %q (supported: %s)", algorithm, strings.Join(Algorithms(), ", "))
	}
	return &Hasher{name: name, newFn: fn, bufLen: ChunkSize}, nil
}

func (h *Hasher) Algorithm() string { return h.name }

// Sum reads r to EOF in ChunkSize blocks and returns the lowercase hex digest.
// Every call starts from a fresh hash state.
func (h *Hasher) Sum(r io.Reader) (string, error) {
	hh := h.newFn()
	buf := make([]byte, h.bufLen)
	if _, err := io.CopyBuffer(struct{ io.Writer }{hh}, struct{ io.Reader }{r}, buf); err != nil {
		return "", fmt.Errorf("digest: %w", err)
	}
	return hex.EncodeToString(hh.Sum(nil)), nil
}

// SumFile digests the file at path.
func (h *Hasher) SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("digest: open %s: %w", path, err)
	}
	defer f.Close()
	return h.Sum(f)
}
