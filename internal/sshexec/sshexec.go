// Package sshexec runs allowlisted commands on remote hosts and fetches
// files from them. Hosts are gated by pattern before any connection is
// attempted; remote commands pass through the restrictive remote filter.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/corral-sh/corral/internal/cmdfilter"
	"github.com/corral-sh/corral/internal/config"
	"github.com/corral-sh/corral/internal/fileops"
	"github.com/corral-sh/corral/internal/pathnorm"
	"github.com/corral-sh/corral/internal/safezone"
	"github.com/corral-sh/corral/internal/shell"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 15 * time.Second
)

// HostDeniedError is returned when the host gate refuses a target.
type HostDeniedError struct {
	Host   string
	Detail string
}

func (e *HostDeniedError) Error() string {
	return e.Detail
}

// Client runs commands and fetches files over SSH under the configured
// policy. It holds no connection state; every call dials fresh.
type Client struct {
	cfg   *config.Config
	zones *safezone.Set
	debug bool
}

// New returns a Client. The zone set gates the local destinations of
// fetched files.
func New(cfg *config.Config, zones *safezone.Set, debug bool) *Client {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Client{cfg: cfg, zones: zones, debug: debug}
}

func (c *Client) logf(format string, args ...any) {
	if c.debug {
		fmt.Fprintf(os.Stderr, "[corral] "+format+"\n", args...)
	}
}

// CheckHost decides whether a host may be contacted. Denied patterns
// win over allowed ones; an empty allowlist denies everything.
func (c *Client) CheckHost(host string) error {
	for _, pattern := range c.cfg.SSH.DeniedHosts {
		if config.MatchesHost(host, pattern) {
			return &HostDeniedError{
				Host:   host,
				Detail: fmt.Sprintf("host %q matches denied pattern %q", host, pattern),
			}
		}
	}
	for _, pattern := range c.cfg.SSH.AllowedHosts {
		if config.MatchesHost(host, pattern) {
			return nil
		}
	}
	return &HostDeniedError{
		Host:   host,
		Detail: fmt.Sprintf("host %q matches no allowed pattern", host),
	}
}

// Run executes a command on a remote host. The host gate and the remote
// command filter both apply before anything is dialed. A non-zero remote
// exit is reported in the result, not as an error.
func (c *Client) Run(ctx context.Context, host, command string) (*shell.ExecResult, error) {
	if err := c.CheckHost(host); err != nil {
		return nil, err
	}
	if d := cmdfilter.Evaluate(command, cmdfilter.Remote, c.cfg); !d.Allowed {
		return nil, &shell.PolicyError{Decision: d}
	}

	conn, err := c.dial(ctx, host)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	c.logf("ssh %s: %s", host, command)
	start := time.Now()
	err = session.Run(command)
	res := &shell.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		return res, err
	}
	return res, nil
}

// Fetch copies a remote file to a local path over SFTP. The local
// destination is a write and must land inside a safe zone.
func (c *Client) Fetch(ctx context.Context, host, remotePath, localPath string) fileops.Result {
	if err := c.CheckHost(host); err != nil {
		return fileops.Result{Status: fileops.StatusDenied, Path: localPath, Detail: err.Error()}
	}

	canon, err := pathnorm.Normalize(localPath, pathnorm.Options{ResolveSymlinks: c.cfg.Paths.ResolveSymlinksEnabled()})
	if err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: err.Error()}
	}
	localPath = canon
	if dec := c.zones.Authorize(localPath, safezone.OpCopyDest); !dec.Allowed {
		return fileops.Result{Status: fileops.StatusDenied, Path: localPath, Detail: dec.Detail}
	}

	conn, err := c.dial(ctx, host)
	if err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: err.Error()}
	}
	defer conn.Close()

	client, err := sftp.NewClient(conn)
	if err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: fmt.Sprintf("sftp: %v", err)}
	}
	defer client.Close()

	src, err := client.Open(remotePath)
	if err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: err.Error()}
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: err.Error()}
	}
	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: err.Error()}
	}
	defer dst.Close()

	n, err := src.WriteTo(dst)
	if err != nil {
		return fileops.Result{Status: fileops.StatusFailed, Path: localPath, Detail: err.Error()}
	}

	c.logf("fetched %s:%s -> %s (%d bytes)", host, remotePath, localPath, n)
	return fileops.Result{
		Status: fileops.StatusSucceeded,
		Path:   localPath,
		Detail: fmt.Sprintf("fetched %d bytes from %s:%s", n, host, remotePath),
	}
}

// dial opens an authenticated SSH connection to the host.
func (c *Client) dial(ctx context.Context, host string) (*ssh.Client, error) {
	cfg, err := c.clientConfig()
	if err != nil {
		return nil, err
	}

	port := c.cfg.SSH.Port
	if port == 0 {
		port = defaultPort
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	d := net.Dialer{Timeout: defaultDialTimeout}
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func (c *Client) clientConfig() (*ssh.ClientConfig, error) {
	user := c.cfg.SSH.User
	if user == "" {
		if u := os.Getenv("USER"); u != "" {
			user = u
		} else {
			user = "root"
		}
	}

	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	hostKey, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User:            user,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         defaultDialTimeout,
	}, nil
}

func (c *Client) authMethods() ([]ssh.AuthMethod, error) {
	keyFile := c.cfg.SSH.KeyFile
	if keyFile == "" {
		keyFile = defaultKeyFile()
	}
	if keyFile == "" {
		return nil, errors.New("no ssh key configured and no default key found")
	}

	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read ssh key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse ssh key %s: %w", keyFile, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func (c *Client) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.cfg.SSH.InsecureIgnoreHostKey {
		c.logf("host key verification disabled")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // explicit opt-in
	}

	path := c.cfg.SSH.KnownHostsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}

	cb, err := knownhosts.New(path)
	if err != nil {
		return nil, fmt.Errorf("known_hosts: %w", err)
	}
	return cb, nil
}

// defaultKeyFile probes the conventional key locations.
func defaultKeyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_rsa", "id_ecdsa"} {
		path := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
