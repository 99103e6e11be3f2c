package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPDestination ships archives to a remote host over SFTP.
type SFTPDestination struct {
	cfg  DestConfig
	ssh  *ssh.Client
	sftp *sftp.Client
}

func NewSFTPDestination(cfg DestConfig) (*SFTPDestination, error) {
	if cfg.SFTPHost == "" {
		return nil, fmt.Errorf("sftp destination requires a host")
	}
	port := cfg.SFTPPort
	if port == 0 {
		port = 22
	}
	sshCfg := &ssh.ClientConfig{
		User:    cfg.SFTPUser,
		Timeout: 30 * time.Second,
		// Backup targets are operator-provisioned hosts on private
		// networks; strict host key checking is left to known_hosts
		// at the SSH layer when needed.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
	}
	switch {
	case cfg.SFTPKeyPath != "":
		keyData, err := os.ReadFile(cfg.SFTPKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read SSH key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse SSH key: %w", err)
		}
		sshCfg.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	case cfg.SFTPPassword != "":
		sshCfg.Auth = []ssh.AuthMethod{ssh.Password(cfg.SFTPPassword)}
	default:
		return nil, fmt.Errorf("sftp destination requires a key path or password")
	}

	addr := fmt.Sprintf("%s:%d", cfg.SFTPHost, port)
	sshClient, err := ssh.Dial("tcp", addr, sshCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	sftpClient, err := sftp.NewClient(sshClient,
		sftp.MaxPacketUnchecked(131072),
		sftp.UseConcurrentWrites(true),
	)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("failed to create SFTP client: %w", err)
	}
	if cfg.Path != "" {
		if err := sftpClient.MkdirAll(cfg.Path); err != nil {
			_ = sftpClient.Close()
			_ = sshClient.Close()
			return nil, fmt.Errorf("failed to create remote directory: %w", err)
		}
	}
	slog.Info("sftp backup destination connected", "addr", addr, "path", cfg.Path)
	return &SFTPDestination{cfg: cfg, ssh: sshClient, sftp: sftpClient}, nil
}

func (d *SFTPDestination) remote(name string) string { return path.Join(d.cfg.Path, name) }

func (d *SFTPDestination) Store(_ context.Context, name string, r io.Reader, size int64) error {
	dest := d.remote(name)
	f, err := d.sftp.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	written, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = d.sftp.Remove(dest)
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if written != size {
		_ = d.sftp.Remove(dest)
		return fmt.Errorf("size mismatch: expected %d bytes, wrote %d", size, written)
	}
	return nil
}

func (d *SFTPDestination) Retrieve(_ context.Context, name string, w io.Writer) error {
	f, err := d.sftp.Open(d.remote(name))
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read remote file: %w", err)
	}
	return nil
}

func (d *SFTPDestination) Delete(_ context.Context, name string) error {
	if err := d.sftp.Remove(d.remote(name)); err != nil {
		return fmt.Errorf("failed to delete remote file: %w", err)
	}
	return nil
}

func (d *SFTPDestination) List(_ context.Context) ([]StoredArchive, error) {
	entries, err := d.sftp.ReadDir(d.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read remote directory: %w", err)
	}
	var out []StoredArchive
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		out = append(out, StoredArchive{Name: e.Name(), SizeBytes: e.Size(), ModUnix: e.ModTime().Unix()})
	}
	return out, nil
}

func (d *SFTPDestination) Type() string { return "sftp" }

func (d *SFTPDestination) Close() error {
	if d.sftp != nil {
		_ = d.sftp.Close()
	}
	if d.ssh != nil {
		return d.ssh.Close()
	}
	return nil
}
