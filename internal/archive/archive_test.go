package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"labhub/internal/quality"
	"labhub/internal/warehouse"
	apperrors "labhub/pkg/errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	keys []string
	err  error
}

func (u *recordingUploader) Upload(_ context.Context, key, path string) (string, error) {
	if u.err != nil {
		return "", u.err
	}
	u.keys = append(u.keys, key)
	return "s3://bucket/" + key, nil
}

type fakePutter struct {
	input *s3.PutObjectInput
	body  []byte
}

func (f *fakePutter) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.body = body
	return &s3.PutObjectOutput{}, nil
}

func sampleBatch() warehouse.Batch {
	return warehouse.Batch{
		ID:            "batch-1",
		RunID:         "run-1",
		QuarantinedAt: time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC),
		FailedChecks:  []string{"Negative Stock (Absolute)"},
		Rows: []warehouse.FactRow{{
			TransactionID:    100,
			DateKey:          sql.NullInt64{Int64: 20250603, Valid: true},
			ProductKey:       sql.NullInt64{Int64: 1, Valid: true},
			AbsoluteQuantity: decimal.NewNullDecimal(decimal.RequireFromString("-3")),
			EventType:        sql.NullString{String: "adjust", Valid: true},
		}},
	}
}

func TestArchiveAndRead(t *testing.T) {
	uploader := &recordingUploader{}
	a, err := NewArchiver(filepath.Join(t.TempDir(), "quarantine"), uploader, nil)
	require.NoError(t, err)

	report := &quality.Report{Title: "audit", Scope: quality.ScopeAll, Passed: false}
	meta, err := a.Archive(context.Background(), sampleBatch(), report)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(a.Dir(), "batch-1.tar.gz"), meta.Path)
	assert.Equal(t, "s3://bucket/batch-1.tar.gz", meta.Location)
	assert.Equal(t, []string{"batch-1.tar.gz"}, uploader.keys)
	assert.Equal(t, 1, meta.Rows)

	info, err := os.Stat(meta.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	contents, err := Read(meta.Path)
	require.NoError(t, err)
	assert.Equal(t, "run-1", contents.Metadata.RunID)
	assert.Equal(t, []string{"Negative Stock (Absolute)"}, contents.Metadata.FailedChecks)
	assert.Len(t, contents.Metadata.Checksums, 2)

	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(contents.Rows, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "-3", rows[0]["AbsoluteQuantity"])
	assert.Nil(t, rows[0]["UserKey"])

	paths, err := a.List()
	require.NoError(t, err)
	assert.Equal(t, []string{meta.Path}, paths)
}

func TestReadDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tampered.tar.gz")

	meta, err := json.Marshal(Metadata{
		BatchID:   "b",
		Checksums: map[string]string{RowsFile: checksum([]byte(`[]`))},
	})
	require.NoError(t, err)
	require.NoError(t, writeTarball(path, time.Now(), []member{
		{RowsFile, []byte(`[{"TransactionID":1}]`)},
		{MetadataFile, meta},
	}))

	_, err = Read(path)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeIntegrityCheckFailed))
}

func TestReadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	_, err := Read(filepath.Join(dir, "absent.tar.gz"))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileNotFound))

	garbage := filepath.Join(dir, "garbage.tar.gz")
	require.NoError(t, os.WriteFile(garbage, []byte("not gzip"), 0600))
	_, err = Read(garbage)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeFileCorrupted))
}

func TestArchiveUploadFailureKeepsLocalCopy(t *testing.T) {
	a, err := NewArchiver(t.TempDir(), &recordingUploader{err: errors.New("access denied")}, nil)
	require.NoError(t, err)

	meta, err := a.Archive(context.Background(), sampleBatch(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.IsRecoverable(err))
	require.NotNil(t, meta)
	assert.FileExists(t, meta.Path)
}

func TestArchiveRejectsTraversalInBatchID(t *testing.T) {
	a, err := NewArchiver(t.TempDir(), nil, nil)
	require.NoError(t, err)

	batch := sampleBatch()
	batch.ID = "../escape"
	_, err = a.Archive(context.Background(), batch, nil)
	assert.Error(t, err)
}

func TestS3Upload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("payload"), 0600))

	putter := &fakePutter{}
	u := newS3Uploader(putter, "lab-archive", "/quarantine/")

	location, err := u.Upload(context.Background(), "b.tar.gz", path)
	require.NoError(t, err)
	assert.Equal(t, "s3://lab-archive/quarantine/b.tar.gz", location)
	assert.Equal(t, "quarantine/b.tar.gz", aws.ToString(putter.input.Key))
	assert.Equal(t, int64(7), aws.ToInt64(putter.input.ContentLength))
	assert.Equal(t, []byte("payload"), putter.body)
}
