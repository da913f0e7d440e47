// utils/reports.go
package utils

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ReportStore writes settlement reports to an S3 bucket so finance can audit
// prize distribution without access to the service database.
type ReportStore struct {
	Client *s3.Client
	Bucket string
}

// NewReportStore builds a store from the environment. Returns nil (store
// disabled) when SETTLEMENT_REPORTS_BUCKET is unset.
func NewReportStore(ctx context.Context) (*ReportStore, error) {
	bucket := os.Getenv("SETTLEMENT_REPORTS_BUCKET")
	if bucket == "" {
		return nil, nil
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(os.Getenv("AWS_REGION")),
	}
	// Static credentials when provided, otherwise the default chain
	// (instance role, env, shared config).
	accessKeyID := os.Getenv("REPORTS_ACCESS_KEY_ID")
	accessKeySecret := os.Getenv("REPORTS_ACCESS_KEY_SECRET")
	if accessKeyID != "" && accessKeySecret != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKeyID, accessKeySecret, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load reports storage config: %w", err)
	}

	return &ReportStore{
		Client: s3.NewFromConfig(cfg),
		Bucket: bucket,
	}, nil
}

// UploadSettlementReport stores one JSON report under the given key.
func (r *ReportStore) UploadSettlementReport(ctx context.Context, key string, body []byte) error {
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report %s: %w", key, err)
	}
	return nil
}
