package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUploader records which files were pushed.
type fakeUploader struct {
	files []string
	fail  string
}

func (f *fakeUploader) Preflight(context.Context) error { return nil }

func (f *fakeUploader) UploadFile(_ context.Context, localPath string) error {
	if localPath == f.fail {
		return fmt.Errorf("upload refused for %s", localPath)
	}

	f.files = append(f.files, localPath)

	return nil
}

func (f *fakeUploader) UploadDir(context.Context, string) error { return nil }

func TestUploadExportPushesArtifactAndHistory(t *testing.T) {
	u := &fakeUploader{}

	err := uploadExport(
		context.Background(), u, "summary.csv", "reliability_history.json",
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"summary.csv", "reliability_history.json"}, u.files)
}

func TestUploadExportFailureSurfaces(t *testing.T) {
	u := &fakeUploader{fail: "reliability_history.json"}

	err := uploadExport(
		context.Background(), u, "summary.csv", "reliability_history.json",
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uploading history")
}
