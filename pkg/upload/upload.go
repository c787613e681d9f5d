package upload

import "context"

// Uploader pushes reliability artifacts to remote storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes a small test object to the bucket to fail fast on
	// misconfiguration.
	Preflight(ctx context.Context) error

	// UploadFile uploads the single file at localPath under the configured
	// prefix, keeping its basename as the object name.
	UploadFile(ctx context.Context, localPath string) error

	// UploadDir uploads all files in localDir. The directory basename is
	// used as a sub-prefix under the configured remote prefix.
	UploadDir(ctx context.Context, localDir string) error
}
