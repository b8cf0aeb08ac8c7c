package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/quantfoundry/modelgate/internal/canonical"
	"github.com/quantfoundry/modelgate/internal/models"
)

// Archiver uploads audit events and marathon reports to object storage.
type Archiver interface {
	ArchiveEvent(ctx context.Context, ev *Event) error
	ArchiveReport(ctx context.Context, report models.MarathonReport) error
}

// S3Archiver writes date-sharded canonical JSON:
//
//	s3://<bucket>/<prefix>/releases/YYYY/MM/DD/<eventID>.json
//	s3://<bucket>/<prefix>/reports/YYYY/MM/DD/<reportID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader *manager.Uploader
}

// NewS3Archiver builds the archiver from ambient AWS configuration
// (AWS_REGION, AWS_PROFILE, static credentials and so on).
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsConfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Archiver) ArchiveEvent(ctx context.Context, ev *Event) error {
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	envelope := map[string]interface{}{
		"id":        ev.ID,
		"action":    ev.Action,
		"actor":     ev.Actor,
		"payload":   ev.Payload,
		"prev_hash": ev.PrevHash,
		"hash":      ev.Hash,
		"ts":        ev.Ts.Format(time.RFC3339Nano),
	}
	canonBytes, err := canonical.MarshalCanonical(envelope)
	if err != nil {
		return fmt.Errorf("canonicalize envelope: %w", err)
	}
	key := s.objectKey("releases", ev.Ts, ev.ID)
	return s.upload(ctx, key, canonBytes)
}

func (s *S3Archiver) ArchiveReport(ctx context.Context, report models.MarathonReport) error {
	canonBytes, err := canonical.MarshalCanonical(report)
	if err != nil {
		return fmt.Errorf("canonicalize report: %w", err)
	}
	key := s.objectKey("reports", report.EvaluatedAt, report.ID)
	return s.upload(ctx, key, canonBytes)
}

func (s *S3Archiver) objectKey(kind string, ts time.Time, id string) string {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	year, month, day := ts.Date()
	return path.Join(s.prefix, kind,
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		fmt.Sprintf("%s.json", id),
	)
}

func (s *S3Archiver) upload(ctx context.Context, key string, body []byte) error {
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", key, err)
	}
	return nil
}
