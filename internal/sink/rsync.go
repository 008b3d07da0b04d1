package sink

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/thnyheim/misp2bro/internal/config"
)

// runFunc executes an external command and returns its combined output.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRun(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// rsyncClient drives the rsync and ssh binaries, for hosts where an
// ssh-agent or ~/.ssh/config already carries the credentials.
type rsyncClient struct {
	cfg config.SensorsConfig
	run runFunc
}

func NewRsync(cfg config.SensorsConfig) *rsyncClient {
	return &rsyncClient{cfg: cfg, run: execRun}
}

func (r *rsyncClient) Name() string { return "rsync" }

func (r *rsyncClient) Sync(ctx context.Context, localPath, host string) error {
	dest := fmt.Sprintf("%s@%s:%s", r.cfg.User, host, dirPath(r.cfg.RemotePath))
	args := []string{"-az", "-e", strings.Join(append([]string{"ssh"}, r.sshOptions()...), " "), localPath, dest}
	if out, err := r.run(ctx, "rsync", args...); err != nil {
		return commandError("rsync", err, out)
	}
	return nil
}

func (r *rsyncClient) Restart(ctx context.Context, host string) error {
	args := append(r.sshOptions(), r.cfg.User+"@"+host, r.cfg.RestartCommand)
	if out, err := r.run(ctx, "ssh", args...); err != nil {
		return commandError("ssh", err, out)
	}
	return nil
}

func (r *rsyncClient) sshOptions() []string {
	opts := []string{"-o", "BatchMode=yes"}
	if r.cfg.SSH.Port != 0 && r.cfg.SSH.Port != 22 {
		opts = append(opts, "-p", strconv.Itoa(r.cfg.SSH.Port))
	}
	if r.cfg.SSH.PrivateKeyFile != "" {
		opts = append(opts, "-i", r.cfg.SSH.PrivateKeyFile)
	}
	if r.cfg.SSH.KnownHostsFile != "" {
		opts = append(opts, "-o", "UserKnownHostsFile="+r.cfg.SSH.KnownHostsFile)
	}
	return opts
}

// dirPath makes rsync treat the remote path as a directory.
func dirPath(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

func commandError(name string, err error, out []byte) error {
	msg := strings.TrimSpace(string(out))
	if len(msg) > 512 {
		msg = msg[len(msg)-512:]
	}
	if msg == "" {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%s: %w: %s", name, err, msg)
}
