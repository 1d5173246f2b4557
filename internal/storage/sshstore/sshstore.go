// Package sshstore implements the SSH/SFTP storage backend (§4.J):
// public-key authentication against ~/.ssh/id_rsa, a known-hosts check
// that auto-adds a host on first contact, and SHA-256-based remote-side
// dedup against the previous backup of the same server (symlink instead
// of re-upload). Grounded in `AKJUS-bsc-erigon`'s go.mod (which pulls in
// golang.org/x/crypto for SSH transport) and rclone's manifest (which
// pairs it with github.com/pkg/sftp for the file-transfer layer) — the
// two dependencies this package exists to exercise.
package sshstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/leengari/pgward/internal/storage"
)

// Config is the connection configuration for one SSH/SFTP target.
type Config struct {
	Host           string
	Port           int
	User           string
	PrivateKeyPath string // defaults to ~/.ssh/id_rsa
	KnownHostsPath string // defaults to ~/.ssh/known_hosts
	Ciphers        []string
	RemoteBaseDir  string
}

// Backend is the SSH/SFTP storage tier.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	sshClient  *ssh.Client
	sftpClient *sftp.Client
}

// New returns an SSH/SFTP Backend for cfg.
func New(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{cfg: cfg, logger: logger}
}

func (b *Backend) Name() string { return "ssh" }

// Setup opens the SSH handshake and SFTP channel (§4.J: "opens any
// session").
func (b *Backend) Setup(ctx context.Context, nodes storage.Nodes) error {
	keyPath := b.cfg.PrivateKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(homeDir(), ".ssh", "id_rsa")
	}
	signer, err := loadPrivateKey(keyPath)
	if err != nil {
		return fmt.Errorf("sshstore: load key %s: %w", keyPath, err)
	}

	hostKeyCallback, err := autoAddHostKeyCallback(b.cfg.KnownHostsPath)
	if err != nil {
		return fmt.Errorf("sshstore: known_hosts: %w", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            b.cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         30 * time.Second,
	}
	if len(b.cfg.Ciphers) > 0 {
		clientConfig.Config.Ciphers = b.cfg.Ciphers
	}

	addr := fmt.Sprintf("%s:%d", b.cfg.Host, b.cfg.Port)
	client, err := ssh.Dial("tcp", addr, clientConfig)
	if err != nil {
		return fmt.Errorf("sshstore: dial %s: %w", addr, err)
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return fmt.Errorf("sshstore: sftp handshake: %w", err)
	}

	b.sshClient = client
	b.sftpClient = sftpClient
	if b.logger != nil {
		b.logger.Info("sshstore session established", "host", b.cfg.Host)
	}
	return nil
}

// Execute walks the local backup tree, computing each file's SHA-256 and,
// when the previous backup of this server already has the same relative
// path with the same digest, symlinking to it remotely instead of
// re-uploading (§4.J, "remote-side dedup").
func (b *Backend) Execute(ctx context.Context, nodes storage.Nodes) error {
	localBase := nodes.String(storage.NodeTargetBase)
	label := nodes.String(storage.NodeLabel)
	priorBase := nodes.String(storage.NodePriorBase)
	remoteBase := path.Join(b.cfg.RemoteBaseDir, label)

	if err := b.sftpClient.MkdirAll(remoteBase); err != nil {
		return fmt.Errorf("sshstore: mkdir %s: %w", remoteBase, err)
	}

	return filepath.Walk(localBase, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(localBase, p)
		if err != nil {
			return err
		}
		remotePath := path.Join(remoteBase, filepath.ToSlash(rel))

		sum, err := sha256File(p)
		if err != nil {
			return fmt.Errorf("sshstore: sha256 %s: %w", p, err)
		}

		if priorBase != "" {
			if priorSum, ok := sha256File(filepath.Join(priorBase, rel)); ok == nil && priorSum == sum {
				priorRemote := path.Join(b.cfg.RemoteBaseDir, filepath.Base(priorBase), filepath.ToSlash(rel))
				if err := b.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
					return err
				}
				_ = b.sftpClient.Remove(remotePath)
				if err := b.sftpClient.Symlink(priorRemote, remotePath); err != nil {
					return fmt.Errorf("sshstore: symlink %s -> %s: %w", remotePath, priorRemote, err)
				}
				return nil
			}
		}

		return b.upload(p, remotePath)
	})
}

func (b *Backend) upload(localPath, remotePath string) error {
	if err := b.sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("sshstore: mkdir %s: %w", path.Dir(remotePath), err)
	}
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := b.sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sshstore: create %s: %w", remotePath, err)
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// ShipFile ships one file (used for WAL segment shipping, §4.H) by
// uploading the whole local file to <RemoteBaseDir>/wal/<remoteRelPath>,
// replacing any earlier copy. Since the local segment file is already
// pre-sized to segSize, the remote copy has that size too; ShipFile does
// not write at offsets or upload only the changed bytes.
func (b *Backend) ShipFile(ctx context.Context, localPath, remoteRelPath string) error {
	remotePath := path.Join(b.cfg.RemoteBaseDir, "wal", remoteRelPath)
	return b.upload(localPath, remotePath)
}

func (b *Backend) Teardown(ctx context.Context, nodes storage.Nodes) error {
	var errs []error
	if b.sftpClient != nil {
		if err := b.sftpClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.sshClient != nil {
		if err := b.sshClient.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("sshstore: teardown: %v", errs)
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadPrivateKey(path string) (ssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(keyBytes)
}

// autoAddHostKeyCallback implements "known-hosts check with auto-add on
// first contact" (§4.J): an unknown host's key is appended to the
// known_hosts file instead of being rejected; a host present with a
// mismatching key is still rejected.
func autoAddHostKeyCallback(knownHostsPath string) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = filepath.Join(homeDir(), ".ssh", "known_hosts")
	}
	if _, err := os.Stat(knownHostsPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(knownHostsPath), 0700); err != nil {
			return nil, err
		}
		if err := os.WriteFile(knownHostsPath, nil, 0600); err != nil {
			return nil, err
		}
	}

	baseCallback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, err
	}

	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		err := baseCallback(hostname, remote, key)
		if err == nil {
			return nil
		}
		var keyErr *knownhosts.KeyError
		if !isKnownHostsKeyError(err, &keyErr) || len(keyErr.Want) > 0 {
			return err // known host, different key: reject
		}
		line := knownhosts.Line([]string{hostname}, key)
		f, openErr := os.OpenFile(knownHostsPath, os.O_APPEND|os.O_WRONLY, 0600)
		if openErr != nil {
			return openErr
		}
		defer f.Close()
		_, writeErr := f.WriteString(line + "\n")
		return writeErr
	}, nil
}

func isKnownHostsKeyError(err error, out **knownhosts.KeyError) bool {
	ke, ok := err.(*knownhosts.KeyError)
	if ok {
		*out = ke
	}
	return ok
}

func homeDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return h
	}
	return strings.TrimSuffix(os.Getenv("HOME"), "/")
}
