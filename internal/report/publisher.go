package report

import (
	"context"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ObjectStore is the subset of *minio.Client the publisher uses.
type ObjectStore interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	PresignedGetObject(ctx context.Context, bucket, object string, expires time.Duration, reqParams url.Values) (*url.URL, error)
}

// PublisherConfig configures S3-compatible report storage.
type PublisherConfig struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Prefix    string
	LinkTTL   time.Duration
}

// Publisher uploads exported reports to object storage.
type Publisher struct {
	client  ObjectStore
	bucket  string
	region  string
	prefix  string
	linkTTL time.Duration
}

// NewMinioClient connects to an S3-compatible endpoint.
func NewMinioClient(cfg PublisherConfig) (*minio.Client, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, eris.Wrap(err, "report: connect object storage")
	}
	return cli, nil
}

// NewPublisher creates a Publisher.
func NewPublisher(client ObjectStore, cfg PublisherConfig) *Publisher {
	ttl := cfg.LinkTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Publisher{
		client:  client,
		bucket:  cfg.Bucket,
		region:  cfg.Region,
		prefix:  cfg.Prefix,
		linkTTL: ttl,
	}
}

// Key returns the object key for a run's report.
func (p *Publisher) Key(runID string) string {
	return p.prefix + runID + "/" + DefaultFilename
}

// Publish uploads the report at localPath and returns a presigned download
// link. The bucket is created on first use.
func (p *Publisher) Publish(ctx context.Context, runID, localPath string) (string, error) {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return "", eris.Wrapf(err, "report: check bucket %s", p.bucket)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return "", eris.Wrapf(err, "report: create bucket %s", p.bucket)
		}
	}

	key := p.Key(runID)
	info, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: ContentType,
	})
	if err != nil {
		return "", eris.Wrapf(err, "report: upload %s", key)
	}

	link, err := p.client.PresignedGetObject(ctx, p.bucket, key, p.linkTTL, nil)
	if err != nil {
		return "", eris.Wrapf(err, "report: presign %s", key)
	}

	zap.L().Info("report: published",
		zap.String("run_id", runID),
		zap.String("bucket", p.bucket),
		zap.String("key", key),
		zap.Int64("size", info.Size),
	)
	return link.String(), nil
}
