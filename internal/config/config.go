package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type MISPConfig struct {
	Host               string        `yaml:"host"`        // http://misp.example/
	APIKey             string        `yaml:"api_key"`     // sent verbatim as Authorization
	ExportPath         string        `yaml:"export_path"` // API query, e.g. events/xml/download/
	Timeout            time.Duration `yaml:"timeout"`     // whole request incl. body
	UserAgent          string        `yaml:"user_agent"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	// EventURLBase is the web root used for meta.url; defaults to Host.
	EventURLBase string `yaml:"event_url_base"`
}

type FilesConfig struct {
	Export string `yaml:"export"` // raw XML export
	Digest string `yaml:"digest"` // last-known digest (file backend)
	Feed   string `yaml:"feed"`   // generated intel file
}

type HashConfig struct {
	Algorithm string `yaml:"algorithm"` // sha256 | sha1 | sha512 | md5
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type StateConfig struct {
	Backend string      `yaml:"backend"` // file | redis
	Redis   RedisConfig `yaml:"redis"`
}

type FeedConfig struct {
	Strict bool `yaml:"strict"` // abort on malformed attributes instead of skipping them
}

type SSHConfig struct {
	Port           int    `yaml:"port"`
	PrivateKeyFile string `yaml:"private_key_file"`
	KnownHostsFile string `yaml:"known_hosts_file"`
}

type SensorsConfig struct {
	Enabled        *bool         `yaml:"enabled"`
	ListFile       string        `yaml:"list_file"`
	RemotePath     string        `yaml:"remote_path"` // directory on the sensor
	User           string        `yaml:"user"`
	Transport      string        `yaml:"transport"` // ssh | rsync
	RestartCommand string        `yaml:"restart_command"`
	Timeout        time.Duration `yaml:"timeout"`     // per sync / per restart
	Concurrency    int           `yaml:"concurrency"` // sensors handled at once
	FailFast       bool          `yaml:"fail_fast"`   // stop at the first failed sensor
	SSH            SSHConfig     `yaml:"ssh"`
}

// IsEnabled defaults to true when the key is absent.
func (s SensorsConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // console | json
	File       string `yaml:"file"`   // optional, rotated
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

type MetricsConfig struct {
	Textfile      string `yaml:"textfile"`       // node_exporter textfile collector target
	ListenAddress string `yaml:"listen_address"` // serve /metrics in interval mode
}

type Config struct {
	MISP    MISPConfig    `yaml:"misp"`
	Files   FilesConfig   `yaml:"files"`
	Hash    HashConfig    `yaml:"hash"`
	State   StateConfig   `yaml:"state"`
	Feed    FeedConfig    `yaml:"feed"`
	Sensors SensorsConfig `yaml:"sensors"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

const (
	DefaultExportPath     = "events/xml/download/"
	DefaultRestartCommand = "nsm_sensor_ps-restart --only-bro"
	DefaultRemotePath     = "/opt/bro/share/bro/intel/"
)

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, applies defaults and env overrides, and validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MISP_HOST"); v != "" {
		c.MISP.Host = v
	}
	if v := os.Getenv("MISP_API_KEY"); v != "" {
		c.MISP.APIKey = v
	}
	if v := os.Getenv("MISP2BRO_REDIS_PASSWORD"); v != "" {
		c.State.Redis.Password = v
	}
}

func (c *Config) applyDefaults() {
	if c.MISP.ExportPath == "" {
		c.MISP.ExportPath = DefaultExportPath
	}
	if c.MISP.Timeout == 0 {
		c.MISP.Timeout = 60 * time.Second
	}
	if c.MISP.EventURLBase == "" {
		c.MISP.EventURLBase = c.MISP.Host
	}
	if c.Files.Export == "" {
		c.Files.Export = "tmp/misp-export.xml"
	}
	if c.Files.Digest == "" {
		c.Files.Digest = "tmp/misp-export.sha256"
	}
	if c.Files.Feed == "" {
		c.Files.Feed = "tmp/intel.dat"
	}
	if c.Hash.Algorithm == "" {
		c.Hash.Algorithm = "sha256"
	}
	if c.State.Backend == "" {
		c.State.Backend = "file"
	}
	if c.State.Redis.Addr == "" {
		c.State.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Sensors.ListFile == "" {
		c.Sensors.ListFile = "sensors.txt"
	}
	if c.Sensors.RemotePath == "" {
		c.Sensors.RemotePath = DefaultRemotePath
	}
	if c.Sensors.User == "" {
		c.Sensors.User = "root"
	}
	if c.Sensors.Transport == "" {
		c.Sensors.Transport = "ssh"
	}
	if c.Sensors.RestartCommand == "" {
		c.Sensors.RestartCommand = DefaultRestartCommand
	}
	if c.Sensors.Timeout == 0 {
		c.Sensors.Timeout = 2 * time.Minute
	}
	if c.Sensors.Concurrency <= 0 {
		c.Sensors.Concurrency = 1
	}
	if c.Sensors.SSH.Port == 0 {
		c.Sensors.SSH.Port = 22
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 10
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 3
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var problems []error
	if strings.TrimSpace(c.MISP.Host) == "" {
		problems = append(problems, errors.New("misp.host is required"))
	} else if !strings.HasPrefix(c.MISP.Host, "http://") && !strings.HasPrefix(c.MISP.Host, "https://") {
		problems = append(problems, fmt.Errorf("misp.host %q must start with http:// or https://", c.MISP.Host))
	}
	if strings.TrimSpace(c.MISP.APIKey) == "" {
		problems = append(problems, errors.New("misp.api_key is required (or MISP_API_KEY)"))
	}
	if c.MISP.Timeout < 0 {
		problems = append(problems, errors.New("misp.timeout must not be negative"))
	}
	switch c.State.Backend {
	case "file", "redis":
	default:
		problems = append(problems, fmt.Errorf("state.backend %q: want file or redis", c.State.Backend))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		problems = append(problems, fmt.Errorf("log.format %q: want console or json", c.Log.Format))
	}
	if c.Sensors.IsEnabled() {
		switch c.Sensors.Transport {
		case "ssh":
			if c.Sensors.SSH.PrivateKeyFile == "" {
				problems = append(problems, errors.New("sensors.ssh.private_key_file is required for the ssh transport"))
			}
			if c.Sensors.SSH.KnownHostsFile == "" {
				problems = append(problems, errors.New("sensors.ssh.known_hosts_file is required for the ssh transport"))
			}
		case "rsync":
		default:
			problems = append(problems, fmt.Errorf("sensors.transport %q: want ssh or rsync", c.Sensors.Transport))
		}
		if c.Sensors.Timeout < 0 {
			problems = append(problems, errors.New("sensors.timeout must not be negative"))
		}
	}
	return errors.Join(problems...)
}

// ExportURL joins host and export path with exactly one slash.
func (m MISPConfig) ExportURL() string {
	return strings.TrimRight(m.Host, "/") + "/" + strings.TrimLeft(m.ExportPath, "/")
}
