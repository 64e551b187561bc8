package publisher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Publisher uploads artifacts to an S3 bucket under
// <prefix><tenant>/<workorder>/<filename>.
type S3Publisher struct {
	client *s3.Client
	bucket string
	prefix string
	clock  func() time.Time
}

// S3Config holds configuration for S3Publisher.
type S3Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack)
	Prefix   string // optional key prefix
}

// NewS3Publisher creates an S3-backed publisher.
func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("publisher: load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // required for MinIO/LocalStack
		}
	}
	return &S3Publisher{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		clock:  time.Now,
	}, nil
}

func (p *S3Publisher) Publish(ctx context.Context, tenantID, workOrderID, artifactPath string) (Receipt, error) {
	data, err := os.ReadFile(artifactPath)
	if err != nil {
		return Receipt{}, fmt.Errorf("publisher: read %s: %w", artifactPath, err)
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	key := p.prefix + tenantID + "/" + workOrderID + "/" + filepath.Base(artifactPath)
	location := "s3://" + p.bucket + "/" + key

	// Skip the upload when the remote object already matches.
	head, err := p.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	})
	if err == nil && head.ContentLength != nil && *head.ContentLength == int64(len(data)) &&
		head.Metadata["sha256"] == digest {
		return p.receipt(tenantID, workOrderID, artifactPath, location, digest, int64(len(data))), nil
	}

	_, err = p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata:    map[string]string{"sha256": digest},
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("publisher: s3 put %s: %w", key, err)
	}
	return p.receipt(tenantID, workOrderID, artifactPath, location, digest, int64(len(data))), nil
}

func (p *S3Publisher) receipt(tenantID, workOrderID, src, location, digest string, size int64) Receipt {
	return Receipt{
		TenantID:    tenantID,
		WorkOrderID: workOrderID,
		ArtifactRef: src,
		Location:    location,
		SHA256:      digest,
		SizeBytes:   size,
		PublishedAt: p.clock().UTC(),
	}
}
