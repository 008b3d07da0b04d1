package sink

import (
	"context"
	"fmt"

	"github.com/thnyheim/misp2bro/internal/config"
)

// SensorClient is the minimal interface all sensor transports implement.
type SensorClient interface {
	Name() string
	// Sync copies the local file into the configured remote directory on host.
	Sync(ctx context.Context, localPath, host string) error
	// Restart makes the sensor reload its intel files.
	Restart(ctx context.Context, host string) error
}

func NewFromConfig(c config.SensorsConfig) (SensorClient, error) {
	switch c.Transport {
	case "ssh", "":
		s, err := NewSSH(c)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "rsync":
		return NewRsync(c), nil
	default:
		return nil, fmt.Errorf("unknown sensor transport: %s", c.Transport)
	}
}
