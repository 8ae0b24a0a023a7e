package auditarchive

// GCSConfig configures the GCS archive backend. Defined without a build
// tag so callers can construct it regardless of how the binary was built;
// NewGCSStore itself is only functional with -tags gcp.
type GCSConfig struct {
	Bucket string
}
