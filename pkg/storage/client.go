// Package storage archives reconcile run reports in S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/nightshift/droplet-scheduler/pkg/errors"
)

// Options configures the report store.
type Options struct {
	Bucket    string
	Prefix    string
	Region    string
	Endpoint  string
	PathStyle bool
	// Credentials overrides the default AWS credential chain when set.
	Credentials aws.CredentialsProvider
}

// Client writes and reads run reports.
type Client struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
}

// NewClient creates a report store client.
func NewClient(ctx context.Context, opts Options) (*Client, error) {
	if opts.Bucket == "" {
		return nil, errors.New("report bucket is required")
	}
	slog.Info("s3_client_init", "bucket", opts.Bucket, "region", opts.Region, "endpoint", opts.Endpoint)

	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.Credentials != nil {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(opts.Credentials))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	s3Client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &Client{
		s3Client: s3Client,
		bucket:   opts.Bucket,
		prefix:   opts.Prefix,
	}, nil
}

// ReportKey returns the object key for a run report. Keys are grouped by UTC
// day so listing a prefix returns them in time order.
func (c *Client) ReportKey(runID string, startedAt time.Time) string {
	t := startedAt.UTC()
	name := fmt.Sprintf("%s-%s.json", t.Format("20060102T150405Z"), runID)
	return path.Join(c.prefix, t.Format("2006/01/02"), name)
}

// PutReport uploads a JSON report and returns its key.
func (c *Client) PutReport(ctx context.Context, runID string, startedAt time.Time, body []byte) (string, error) {
	key := c.ReportKey(runID, startedAt)
	slog.Info("s3_put_report", "bucket", c.bucket, "s3_key", key, "size", len(body))

	_, err := c.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(c.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		slog.Error("s3_put_object_failed", "s3_key", key, "error", err)
		return "", errors.Wrap(err, "failed to upload report")
	}
	return key, nil
}

// GetReport downloads a report by key.
func (c *Client) GetReport(ctx context.Context, key string) ([]byte, error) {
	result, err := c.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("s3_get_object_failed", "s3_key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get report")
	}
	defer result.Body.Close()

	body, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read report")
	}
	return body, nil
}

// ListReports lists report keys under the configured prefix.
func (c *Client) ListReports(ctx context.Context) ([]string, error) {
	prefix := c.prefix
	if prefix != "" {
		prefix += "/"
	}
	slog.Info("s3_list_start", "bucket", c.bucket, "prefix", prefix)

	paginator := s3.NewListObjectsV2Paginator(c.s3Client, &s3.ListObjectsV2Input{
		Bucket: aws.String(c.bucket),
		Prefix: aws.String(prefix),
	})

	var keys []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("s3_list_failed", "prefix", prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list reports")
		}
		for _, obj := range page.Contents {
			if obj.Key != nil {
				keys = append(keys, *obj.Key)
			}
		}
	}

	slog.Info("s3_list_complete", "prefix", prefix, "object_count", len(keys))
	return keys, nil
}
