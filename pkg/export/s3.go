package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/scopeoor/pkg/config"
	"github.com/ethpandaops/scopeoor/pkg/report"
)

// putObjectAPI is the subset of the S3 client used for uploads.
type putObjectAPI interface {
	PutObject(
		ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options),
	) (*s3.PutObjectOutput, error)
}

// s3Exporter implements Exporter for S3-compatible storage.
type s3Exporter struct {
	log    logrus.FieldLogger
	cfg    *config.S3ExportConfig
	format string
	client putObjectAPI
}

// Ensure interface compliance.
var _ Exporter = (*s3Exporter)(nil)

// NewS3Exporter creates a new S3 exporter from the given configuration.
func NewS3Exporter(
	log logrus.FieldLogger,
	cfg *config.S3ExportConfig,
	format string,
) (Exporter, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.Region != "" {
				o.Region = cfg.Region
			} else {
				o.Region = "us-east-1"
			}

			if cfg.EndpointURL != "" {
				o.BaseEndpoint = aws.String(cfg.EndpointURL)
			}

			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}

			if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
				o.Credentials = credentials.NewStaticCredentialsProvider(
					cfg.AccessKeyID, cfg.SecretAccessKey, "",
				)
			}
		},
	}

	client := s3.New(s3.Options{}, opts...)

	return &s3Exporter{
		log:    log.WithField("component", "s3-exporter"),
		cfg:    cfg,
		format: format,
		client: client,
	}, nil
}

// Preflight verifies S3 connectivity by writing a small test object.
func (e *s3Exporter) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("scopeoor write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(e.resolveKey(".scopeoor-write-test")),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", e.cfg.Bucket, err)
	}

	return nil
}

func (e *s3Exporter) Export(ctx context.Context, rep *report.RunReport) error {
	data, err := Encode(rep, e.format)
	if err != nil {
		return err
	}

	key := e.resolveKey(FileName(rep.RunID(), e.format))

	input := &s3.PutObjectInput{
		Bucket:        aws.String(e.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(key)),
	}

	if e.cfg.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(e.cfg.StorageClass)
	}

	if e.cfg.ACL != "" {
		input.ACL = s3types.ObjectCannedACL(e.cfg.ACL)
	}

	if _, err := e.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("PutObject %s: %w", key, err)
	}

	e.log.WithFields(logrus.Fields{
		"run_id": rep.RunID(),
		"bucket": e.cfg.Bucket,
		"key":    key,
		"size":   units.HumanSize(float64(len(data))),
	}).Info("Report uploaded")

	return nil
}

// resolveKey places name under the configured prefix.
func (e *s3Exporter) resolveKey(name string) string {
	prefix := e.cfg.Prefix
	if prefix == "" {
		prefix = config.DefaultS3Prefix
	}

	return strings.TrimRight(prefix, "/") + "/" + name
}
