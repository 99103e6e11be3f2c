package backup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3Destination ships archives to S3 or an S3-compatible store.
type S3Destination struct {
	cfg      DestConfig
	client   *s3.S3
	uploader *s3manager.Uploader
}

func NewS3Destination(cfg DestConfig) (*S3Destination, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3 destination requires a bucket")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.S3Region)}
	if cfg.S3AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, "")
	}
	if cfg.S3Endpoint != "" {
		// MinIO and friends need path-style addressing.
		awsCfg.Endpoint = aws.String(cfg.S3Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return &S3Destination{
		cfg:      cfg,
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}, nil
}

func (d *S3Destination) key(name string) string { return path.Join(d.cfg.Path, name) }

func (d *S3Destination) Store(ctx context.Context, name string, r io.Reader, size int64) error {
	key := d.key(name)
	slog.Info("uploading backup to s3", "bucket", d.cfg.S3Bucket, "key", key, "bytes", size)
	_, err := d.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(d.cfg.S3Bucket),
		Key:         aws.String(key),
		Body:        r,
		ContentType: aws.String("application/gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload to s3: %w", err)
	}
	return nil
}

func (d *S3Destination) Retrieve(ctx context.Context, name string, w io.Writer) error {
	out, err := d.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.cfg.S3Bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to get object from s3: %w", err)
	}
	defer func() { _ = out.Body.Close() }()
	if _, err := io.Copy(w, out.Body); err != nil {
		return fmt.Errorf("failed to read s3 object: %w", err)
	}
	return nil
}

func (d *S3Destination) Delete(ctx context.Context, name string) error {
	_, err := d.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(d.cfg.S3Bucket),
		Key:    aws.String(d.key(name)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete from s3: %w", err)
	}
	return nil
}

func (d *S3Destination) List(ctx context.Context) ([]StoredArchive, error) {
	prefix := d.cfg.Path
	if prefix != "" {
		prefix += "/"
	}
	var out []StoredArchive
	err := d.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(d.cfg.S3Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, obj := range page.Contents {
			if aws.StringValue(obj.Key) == prefix {
				continue
			}
			out = append(out, StoredArchive{
				Name:      path.Base(aws.StringValue(obj.Key)),
				SizeBytes: aws.Int64Value(obj.Size),
				ModUnix:   aws.TimeValue(obj.LastModified).Unix(),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list s3 objects: %w", err)
	}
	return out, nil
}

func (d *S3Destination) Type() string { return "s3" }
func (d *S3Destination) Close() error { return nil }
