// Package archive keeps a copy of every exported phone batch in object storage
// so the PDF renderer can fetch it later.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/territorios-app/territorios/internal/model"
	"github.com/territorios-app/territorios/pkg/logger"
)

type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	Prefix    string
	// PathStyle is needed by most S3-compatible stores such as MinIO.
	PathStyle bool
}

type objectPutter interface {
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

type S3Archive struct {
	client objectPutter
	bucket string
	prefix string
	now    func() time.Time
}

type exportDocument struct {
	BatchID    string               `json:"batch_id"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Records    []*model.PhoneRecord `json:"records"`
}

func NewS3Archive(cfg S3Config) (*S3Archive, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create s3 session: %w", err)
	}
	return newS3Archive(s3.New(sess), cfg.Bucket, cfg.Prefix), nil
}

func newS3Archive(client objectPutter, bucket, prefix string) *S3Archive {
	if prefix == "" {
		prefix = "exports"
	}
	return &S3Archive{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Store uploads the batch as <prefix>/<timestamp>-<batchID>.json.
func (a *S3Archive) Store(ctx context.Context, batchID string, recs []*model.PhoneRecord) error {
	at := a.now()
	body, err := json.Marshal(exportDocument{
		BatchID:    batchID,
		ExportedAt: at,
		Count:      len(recs),
		Records:    recs,
	})
	if err != nil {
		return fmt.Errorf("encode export %s: %w", batchID, err)
	}

	key := a.Key(at, batchID)
	_, err = a.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("upload export %s: %w", key, err)
	}

	logger.Info("export archived", "bucket", a.bucket, "key", key, "records", len(recs))
	return nil
}

func (a *S3Archive) Key(at time.Time, batchID string) string {
	return path.Join(a.prefix, fmt.Sprintf("%s-%s.json", at.Format("20060102T150405Z"), batchID))
}
