package s3

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/ec2/imds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/lodgepole/farmsight/pkg/archive"
)

// backendS3 identifies this backend in wrapped errors.
const backendS3 = "s3"

// imdsProbeTimeout bounds the instance metadata region probe. Off EC2 the
// endpoint is unreachable and the probe fails fast.
const imdsProbeTimeout = 2 * time.Second

// snapshotContentType is the content type set on archived snapshots.
const snapshotContentType = "application/json"

// Archiver implements archive.Archiver against AWS S3 and S3-compatible
// storage.
//
// Each snapshot overwrites a date-stamped object, so the bucket keeps one
// point-in-time copy per UTC day without unbounded growth.
type Archiver struct {
	client *s3.Client
	bucket string
	prefix string

	// now is the clock used for snapshot key naming.
	now func() time.Time
}

// Ensure Archiver implements the interface.
var _ archive.Archiver = (*Archiver)(nil)

// imdsRegion resolves the region from EC2 instance metadata. Variable so
// tests can stub the probe out.
var imdsRegion = probeIMDSRegion

// New creates a new S3 archiver with the given configuration.
//
// The archiver uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Archiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &archive.ArchiveError{
			Op:      "New",
			Backend: backendS3,
			Bucket:  cfg.Bucket,
			Err:     err,
		}
	}

	// Build S3 client options
	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return &Archiver{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		now:    time.Now,
	}, nil
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Only apply explicit region if user set one in config.
	// Let SDK resolve from env/profile first.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	// Set profile if specified
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	// Use explicit credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"", // session token (empty for long-term credentials)
		)
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}

	// Apply region defaulting logic
	awsCfg.Region = resolveRegion(ctx, cfg.Endpoint, awsCfg.Region)

	return awsCfg, nil
}

// resolveRegion determines the final region after SDK config loading.
//
// The sdkRegion parameter is the region after SDK loading, which already
// incorporates an explicit Config.Region or env/profile resolution. When
// that chain produced nothing, instance metadata is probed before the
// us-east-1 fallback. S3-compatible stores (endpoint set) get no default;
// the endpoint decides.
func resolveRegion(ctx context.Context, endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint != "" {
		return ""
	}
	if region := imdsRegion(ctx); region != "" {
		return region
	}
	return DefaultAWSRegion
}

// probeIMDSRegion asks the EC2 instance metadata service for the local
// region. Returns "" when the probe fails or times out.
func probeIMDSRegion(ctx context.Context) string {
	rctx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
	defer cancel()

	out, err := imds.New(imds.Options{}).GetRegion(rctx, &imds.GetRegionInput{})
	if err != nil {
		return ""
	}
	return out.Region
}

// ArchiveSnapshot uploads one snapshot copy.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snapshot []byte) error {
	key := snapshotKey(a.prefix, a.now())

	input := &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(snapshot),
		ContentLength: aws.Int64(int64(len(snapshot))),
		ContentType:   aws.String(snapshotContentType),
	}

	if _, err := a.client.PutObject(ctx, input); err != nil {
		return a.wrapError("ArchiveSnapshot", key, err)
	}
	return nil
}

// Close releases any resources held by the archiver.
// The S3 client doesn't require explicit cleanup, but this satisfies the interface.
func (a *Archiver) Close() error {
	return nil
}

// snapshotKey builds the date-stamped object key for a snapshot.
func snapshotKey(prefix string, now time.Time) string {
	name := "jobs-" + now.UTC().Format("2006-01-02") + ".json"
	if prefix == "" {
		return name
	}
	return strings.TrimSuffix(prefix, "/") + "/" + name
}

// wrapError converts S3 errors to archive errors with appropriate sentinel errors.
func (a *Archiver) wrapError(op, key string, err error) error {
	wrapped := &archive.ArchiveError{
		Op:      op,
		Backend: backendS3,
		Bucket:  a.bucket,
		Key:     key,
		Err:     err,
	}

	// Check for specific S3 error types first
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		wrapped.Err = archive.ErrBucketNotFound
		return wrapped
	}

	// Check smithy API errors for error codes
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchBucket", "NotFound":
			wrapped.Err = archive.ErrBucketNotFound
		case "AccessDenied", "Forbidden":
			wrapped.Err = archive.ErrAccessDenied
		case "InvalidAccessKeyId", "SignatureDoesNotMatch":
			wrapped.Err = archive.ErrInvalidCredentials
		case "SlowDown", "Throttling", "RequestLimitExceeded":
			wrapped.Err = archive.ErrThrottled
		case "ServiceUnavailable", "InternalError":
			wrapped.Err = archive.ErrUnavailable
		}
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchBucket") || strings.Contains(errMsg, "404"):
		wrapped.Err = archive.ErrBucketNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Err = archive.ErrAccessDenied
	case strings.Contains(errMsg, "InvalidAccessKeyId") || strings.Contains(errMsg, "SignatureDoesNotMatch"):
		wrapped.Err = archive.ErrInvalidCredentials
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Err = archive.ErrThrottled
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Err = archive.ErrUnavailable
	}

	return wrapped
}
