package sftppool

import (
	"context"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/arkadian-hale/deadside-ingest/internal/config"
)

// FileClient is the subset of the SFTP client used by file discovery and the
// tail readers. Keeping it narrow lets tests substitute an in-memory tree.
type FileClient interface {
	ReadDir(path string) ([]os.FileInfo, error)
	Open(path string) (io.ReadSeekCloser, error)
	Stat(path string) (os.FileInfo, error)
}

// Conn is one pooled remote-file connection.
type Conn struct {
	files    FileClient
	closer   io.Closer
	strategy string
	closed   atomic.Bool
}

// NewConn wraps an established file client. closer may be nil for clients
// with no underlying transport (tests).
func NewConn(files FileClient, closer io.Closer) *Conn {
	return &Conn{files: files, closer: closer}
}

// Files returns the remote filesystem client.
func (c *Conn) Files() FileClient { return c.files }

// Strategy returns the name of the negotiation strategy that produced the
// connection.
func (c *Conn) Strategy() string { return c.strategy }

// Alive reports whether the underlying transport is still usable.
func (c *Conn) Alive() bool { return !c.closed.Load() }

// MarkBroken flags the connection so Release closes it instead of returning
// it to the idle queue. Used after read errors that indicate a dead transport.
func (c *Conn) MarkBroken() { c.closed.Store(true) }

// Close closes the underlying transport. Idempotent.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// sftpFiles adapts *sftp.Client to FileClient.
type sftpFiles struct {
	client *sftp.Client
}

func (f sftpFiles) ReadDir(path string) ([]os.FileInfo, error) { return f.client.ReadDir(path) }
func (f sftpFiles) Stat(path string) (os.FileInfo, error)      { return f.client.Stat(path) }

func (f sftpFiles) Open(path string) (io.ReadSeekCloser, error) {
	return f.client.Open(path)
}

// sshCloser closes the SFTP session and then its SSH transport.
type sshCloser struct {
	sftp *sftp.Client
	ssh  *ssh.Client
}

func (c sshCloser) Close() error {
	c.sftp.Close()
	return c.ssh.Close()
}

// DialFunc establishes one authenticated connection using a single strategy.
type DialFunc func(ctx context.Context, ep config.ServerEndpoint, s Strategy) (*Conn, error)

// SSHDialer returns the production DialFunc using password authentication over
// SSH with the strategy's algorithm profile.
func SSHDialer(dialTimeout time.Duration) DialFunc {
	return func(ctx context.Context, ep config.ServerEndpoint, s Strategy) (*Conn, error) {
		clientCfg := &ssh.ClientConfig{
			User: ep.Username,
			Auth: []ssh.AuthMethod{
				ssh.Password(ep.Password),
				ssh.KeyboardInteractive(passwordKeyboardInteractive(ep.Password)),
			},
			// Game hosts rotate machines freely; host key pinning is not
			// operable here.
			HostKeyCallback: ssh.InsecureIgnoreHostKey(),
			Timeout:         dialTimeout,
		}
		clientCfg.KeyExchanges = s.KeyExchanges
		clientCfg.Ciphers = s.Ciphers
		clientCfg.HostKeyAlgorithms = s.HostKeyAlgorithms

		sshClient, err := ssh.Dial("tcp", ep.Addr(), clientCfg)
		if err != nil {
			return nil, err
		}

		sftpClient, err := sftp.NewClient(sshClient)
		if err != nil {
			sshClient.Close()
			return nil, err
		}

		conn := NewConn(sftpFiles{client: sftpClient}, sshCloser{sftp: sftpClient, ssh: sshClient})
		conn.strategy = s.Name

		// Flag the connection dead as soon as the transport drops so the pool
		// evicts it instead of handing it out.
		go func() {
			_ = sshClient.Wait()
			conn.closed.Store(true)
		}()

		return conn, nil
	}
}

// passwordKeyboardInteractive answers every keyboard-interactive prompt with
// the account password. Some hosting panels disable plain password auth.
func passwordKeyboardInteractive(password string) ssh.KeyboardInteractiveChallenge {
	return func(name, instruction string, questions []string, echos []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range questions {
			answers[i] = password
		}
		return answers, nil
	}
}
