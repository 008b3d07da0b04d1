package sink

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/thnyheim/misp2bro/internal/config"
)

// sshClient talks to sensors directly over SSH: the feed is streamed to a
// temp file next to its destination and moved into place, so the sensor's
// intel reader never sees a partial file.
type sshClient struct {
	cfg       config.SensorsConfig
	clientCfg *ssh.ClientConfig
	dialer    net.Dialer
}

func NewSSH(cfg config.SensorsConfig) (*sshClient, error) {
	key, err := os.ReadFile(cfg.SSH.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", cfg.SSH.PrivateKeyFile, err)
	}
	hostKeys, err := knownhosts.New(cfg.SSH.KnownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return newSSHWithConfig(cfg, &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
		Timeout:         cfg.Timeout,
	}), nil
}

func newSSHWithConfig(cfg config.SensorsConfig, cc *ssh.ClientConfig) *sshClient {
	return &sshClient{cfg: cfg, clientCfg: cc}
}

func (s *sshClient) Name() string { return "ssh" }

func (s *sshClient) Sync(ctx context.Context, localPath, host string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	dir := strings.TrimRight(s.cfg.RemotePath, "/")
	if dir == "" {
		dir = "/"
	}
	target := path.Join(dir, filepath.Base(localPath))
	tmp := target + ".tmp"
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s && mv -f %s %s",
		shellQuote(dir), shellQuote(tmp), shellQuote(tmp), shellQuote(target))

	return s.run(ctx, host, cmd, f)
}

func (s *sshClient) Restart(ctx context.Context, host string) error {
	return s.run(ctx, host, s.cfg.RestartCommand, nil)
}

func (s *sshClient) run(ctx context.Context, host, cmd string, stdin io.Reader) error {
	client, err := s.connect(ctx, host)
	if err != nil {
		return err
	}
	defer client.Close()
	// Tear the connection down if ctx ends mid-command.
	stop := context.AfterFunc(ctx, func() { client.Close() })
	defer stop()

	sess, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh session: %w", err)
	}
	defer sess.Close()
	if stdin != nil {
		sess.Stdin = stdin
	}
	out, err := sess.CombinedOutput(cmd)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ssh %q: %w", cmd, ctxErr)
		}
		return commandError("ssh", err, out)
	}
	return nil
}

func (s *sshClient) connect(ctx context.Context, host string) (*ssh.Client, error) {
	addr := hostAddr(host, s.cfg.SSH.Port)
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, s.clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}

// hostAddr accepts "host", "host:port" and bare IPv6 addresses.
func hostAddr(host string, port int) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(port))
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
