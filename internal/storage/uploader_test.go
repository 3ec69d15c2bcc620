package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type putCall struct {
	bucket      string
	key         string
	contentType string
	metadata    map[string]string
	body        []byte
}

type fakePutter struct {
	mu    sync.Mutex
	calls []putCall
	err   error
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, putCall{
		bucket:      aws.ToString(in.Bucket),
		key:         aws.ToString(in.Key),
		contentType: aws.ToString(in.ContentType),
		metadata:    in.Metadata,
		body:        body,
	})
	return &s3.PutObjectOutput{}, nil
}

func storageConfig() config.StorageConfig {
	return config.StorageConfig{
		Bucket:         "exports",
		KeyPrefix:      "catalog-exports",
		PartitionClock: config.PartitionByEnqueue,
	}
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "catalog_export_exp-001.csv")
	require.NoError(t, os.WriteFile(p, []byte("ID\n1\n"), 0o644))
	return p
}

func TestUploadCatalogExport(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 23, 30, 0, 0, time.UTC))
	putter := &fakePutter{}
	u := NewUploader(putter, storageConfig(), clock, nil)
	file := writeArtifact(t)

	requested := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	key, err := u.UploadCatalogExport(context.Background(), file, "exp-001", requested)
	require.NoError(t, err)
	assert.Equal(t, "catalog-exports/2025/03/04/catalog_export_exp-001.csv", key)

	require.Len(t, putter.calls, 1)
	call := putter.calls[0]
	assert.Equal(t, "exports", call.bucket)
	assert.Equal(t, "text/csv", call.contentType)
	assert.Equal(t, "exp-001", call.metadata[MetaExportID])
	assert.Equal(t, "2025-03-04T23:30:00Z", call.metadata[MetaCreatedAt])
	assert.Equal(t, []byte("ID\n1\n"), call.body)
}

func TestUploadSameDaySameKey(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC))
	putter := &fakePutter{}
	cfg := storageConfig()
	cfg.PartitionClock = config.PartitionByUpload
	u := NewUploader(putter, cfg, clock, nil)
	file := writeArtifact(t)

	first, err := u.UploadCatalogExport(context.Background(), file, "exp-001", time.Time{})
	require.NoError(t, err)
	clock.Advance(10 * time.Hour)
	second, err := u.UploadCatalogExport(context.Background(), file, "exp-001", time.Time{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, putter.calls, 2)
}

func TestUploadPartitionClock(t *testing.T) {
	requested := time.Date(2025, 3, 4, 23, 59, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(requested.Add(2 * time.Minute))
	file := writeArtifact(t)

	byEnqueue := NewUploader(&fakePutter{}, storageConfig(), clock, nil)
	key, err := byEnqueue.UploadCatalogExport(context.Background(), file, "exp-001", requested)
	require.NoError(t, err)
	assert.Contains(t, key, "/2025/03/04/")

	cfg := storageConfig()
	cfg.PartitionClock = config.PartitionByUpload
	byUpload := NewUploader(&fakePutter{}, cfg, clock, nil)
	key, err = byUpload.UploadCatalogExport(context.Background(), file, "exp-001", requested)
	require.NoError(t, err)
	assert.Contains(t, key, "/2025/03/05/")
}

func TestUploadMissingArtifact(t *testing.T) {
	putter := &fakePutter{}
	u := NewUploader(putter, storageConfig(), nil, nil)

	_, err := u.UploadCatalogExport(context.Background(), filepath.Join(t.TempDir(), "gone.csv"), "exp-001", time.Now())
	require.Error(t, err)
	assert.Equal(t, domain.KindArtifactMissing, domain.KindOf(err))
	assert.Empty(t, putter.calls)
}

func responseError(status int) error {
	return &awshttp.ResponseError{
		ResponseError: &smithyhttp.ResponseError{
			Response: &smithyhttp.Response{Response: &http.Response{StatusCode: status}},
			Err:      errors.New("status " + http.StatusText(status)),
		},
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"server error", responseError(http.StatusServiceUnavailable), domain.KindStorageUnavailable},
		{"throttled", responseError(http.StatusTooManyRequests), domain.KindStorageUnavailable},
		{"forbidden", responseError(http.StatusForbidden), domain.KindStorageUpload},
		{"api error", &smithy.GenericAPIError{Code: "NoSuchBucket", Message: "bucket missing"}, domain.KindStorageUpload},
		{"dial error", errors.New("dial tcp: connection refused"), domain.KindStorageUnavailable},
		{"deadline", context.DeadlineExceeded, domain.KindStorageUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify("storage.upload", "exp-001", tt.err)
			assert.Equal(t, tt.want, domain.KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestUploadClassifiesClientError(t *testing.T) {
	u := NewUploader(&fakePutter{err: responseError(http.StatusBadGateway)}, storageConfig(), nil, nil)
	_, err := u.UploadCatalogExport(context.Background(), writeArtifact(t), "exp-001", time.Now())
	assert.True(t, domain.IsTransient(err))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "text/csv", ContentType("a.CSV"))
	assert.Equal(t, "application/octet-stream", ContentType("a.bin"))
	assert.Contains(t, ContentType("a.xlsx"), "spreadsheetml")
}
