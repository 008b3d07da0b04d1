package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadSensors reads one host per line from path.
func LoadSensors(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sensor list: %w", err)
	}
	defer f.Close()
	hosts, err := ReadSensors(f)
	if err != nil {
		return nil, fmt.Errorf("read sensor list %s: %w", path, err)
	}
	return hosts, nil
}

// ReadSensors trims each line and skips blanks and '#' comments. Duplicate
// hosts are kept once, in first-seen order.
func ReadSensors(r io.Reader) ([]string, error) {
	var hosts []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		h := strings.TrimSpace(sc.Text())
		if h == "" || strings.HasPrefix(h, "#") {
			continue
		}
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		hosts = append(hosts, h)
	}
	return hosts, sc.Err()
}
