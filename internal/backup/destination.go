package backup

import (
	"context"
	"fmt"
	"io"
)

// Destination is a place finished archives are shipped to.
type Destination interface {
	// Store uploads an archive under name. size is the exact byte count
	// the reader will produce.
	Store(ctx context.Context, name string, r io.Reader, size int64) error
	// Retrieve streams a stored archive into w.
	Retrieve(ctx context.Context, name string, w io.Writer) error
	// Delete removes a stored archive.
	Delete(ctx context.Context, name string) error
	// List returns the stored archives.
	List(ctx context.Context) ([]StoredArchive, error)
	// Type identifies the destination kind ("local", "s3", "sftp").
	Type() string
	// Close releases any connections held by the destination.
	Close() error
}

// StoredArchive is one archive at a destination.
type StoredArchive struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	ModUnix   int64  `json:"mod_unix"`
}

// DestConfig selects and configures a destination.
type DestConfig struct {
	Type string `toml:"type" json:"type" mapstructure:"type"` // local, s3, sftp
	Path string `toml:"path" json:"path" mapstructure:"path"` // base directory, bucket prefix or remote path

	// S3 (also S3-compatible stores via Endpoint).
	S3Bucket    string `toml:"s3_bucket" json:"s3_bucket" mapstructure:"s3_bucket"`
	S3Region    string `toml:"s3_region" json:"s3_region" mapstructure:"s3_region"`
	S3AccessKey string `toml:"s3_access_key" json:"s3_access_key" mapstructure:"s3_access_key"`
	S3SecretKey string `toml:"s3_secret_key" json:"-" mapstructure:"s3_secret_key"`
	S3Endpoint  string `toml:"s3_endpoint" json:"s3_endpoint" mapstructure:"s3_endpoint"`

	// SFTP.
	SFTPHost     string `toml:"sftp_host" json:"sftp_host" mapstructure:"sftp_host"`
	SFTPPort     int    `toml:"sftp_port" json:"sftp_port" mapstructure:"sftp_port"`
	SFTPUser     string `toml:"sftp_user" json:"sftp_user" mapstructure:"sftp_user"`
	SFTPPassword string `toml:"sftp_password" json:"-" mapstructure:"sftp_password"`
	SFTPKeyPath  string `toml:"sftp_key_path" json:"sftp_key_path" mapstructure:"sftp_key_path"`
}

// NewDestination builds a destination from config.
func NewDestination(cfg DestConfig) (Destination, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalDestination(cfg.Path), nil
	case "s3":
		return NewS3Destination(cfg)
	case "sftp":
		return NewSFTPDestination(cfg)
	default:
		return nil, fmt.Errorf("unsupported backup destination type: %q", cfg.Type)
	}
}
