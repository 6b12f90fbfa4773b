// Package s3 implements the snapshot archiver for AWS S3 and S3-compatible
// storage.
package s3

// Config configures an S3 snapshot archiver.
//
// Credentials resolve through the AWS SDK v2 default chain: explicit
// keys here, then environment variables, shared credentials and config
// files, and finally instance or task roles. Explicit keys in this
// struct win over everything else.
//
// For S3-compatible stores (MinIO, Wasabi) set Endpoint and usually
// ForcePathStyle; no default region is applied when Endpoint is set.
type Config struct {
	// Bucket receives the snapshot objects (required).
	Bucket string

	// Prefix is the key prefix snapshots are written under.
	// Leave empty to write at the bucket root.
	Prefix string

	// Region is the AWS region. When empty and no endpoint is set, the
	// SDK resolution order applies with us-east-1 as the final fallback.
	Region string

	// Endpoint is a custom URL for S3-compatible stores, for example
	// http://minio.render.local:9000. Leave empty for AWS S3.
	Endpoint string

	// Profile selects a named profile from the shared AWS config.
	Profile string

	// AccessKeyID and SecretAccessKey are explicit credentials. They
	// must be set together and bypass the default chain.
	AccessKeyID     string
	SecretAccessKey string

	// ForcePathStyle puts the bucket in the URL path rather than the
	// subdomain. Most S3-compatible stores require it.
	ForcePathStyle bool
}

// DefaultAWSRegion is the fallback region for AWS S3 when not specified.
const DefaultAWSRegion = "us-east-1"

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	if (c.AccessKeyID != "") != (c.SecretAccessKey != "") {
		return &ConfigError{
			Field:   "AccessKeyID/SecretAccessKey",
			Message: "both access key ID and secret access key must be provided together",
		}
	}
	return nil
}

// ConfigError reports an invalid archiver configuration field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 archive config: " + e.Field + ": " + e.Message
}
