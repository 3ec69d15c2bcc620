package storage

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"catalogexport/internal/config"
	"catalogexport/internal/domain"
	"catalogexport/internal/logging"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const (
	MetaExportID  = "export_id"
	MetaCreatedAt = "created_at"
)

// ObjectPutter is the subset of the S3 client used by the uploader.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Uploader pushes export artifacts into date partitioned keys.
type Uploader struct {
	client ObjectPutter
	cfg    config.StorageConfig
	clock  clockwork.Clock
	logger zerolog.Logger
}

func NewUploader(client ObjectPutter, cfg config.StorageConfig, clock clockwork.Clock, logger *zerolog.Logger) *Uploader {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Uploader{
		client: client,
		cfg:    cfg,
		clock:  clock,
		logger: logging.Component(logger, "uploader"),
	}
}

// Key returns <prefix>/YYYY/MM/DD/<basename> for the UTC date of at.
func (u *Uploader) Key(filePath string, at time.Time) string {
	return path.Join(strings.Trim(u.cfg.KeyPrefix, "/"), at.UTC().Format("2006/01/02"), filepath.Base(filePath))
}

func (u *Uploader) partitionTime(requestedAt time.Time) time.Time {
	if u.cfg.PartitionClock == config.PartitionByUpload || requestedAt.IsZero() {
		return u.clock.Now()
	}
	return requestedAt
}

// UploadCatalogExport uploads filePath and returns the storage key. The same
// export id on the same partition date always maps to the same key, so a
// retry overwrites the previous object.
func (u *Uploader) UploadCatalogExport(ctx context.Context, filePath, exportID string, requestedAt time.Time) (string, error) {
	const op = "storage.upload"

	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", domain.NewError(domain.KindArtifactMissing, op, exportID, err)
		}
		return "", domain.NewError(domain.KindIO, op, exportID, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", domain.NewError(domain.KindIO, op, exportID, err)
	}

	key := u.Key(filePath, u.partitionTime(requestedAt))
	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.cfg.Bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(info.Size()),
		ContentType:   aws.String(ContentType(filePath)),
		Metadata: map[string]string{
			MetaExportID:  exportID,
			MetaCreatedAt: u.clock.Now().UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		return "", Classify(op, exportID, err)
	}

	u.logger.Info().
		Str("export_id", exportID).
		Str("bucket", u.cfg.Bucket).
		Str("key", key).
		Int64("size", info.Size()).
		Msg("export uploaded")
	return key, nil
}

// Classify maps an object store error onto the pipeline taxonomy. Responses
// with a 5xx or 429 status and failures without any response are treated as
// unavailability; every other reported error is an upload failure.
func Classify(op, exportID string, err error) error {
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
			return domain.NewError(domain.KindStorageUnavailable, op, exportID, err)
		}
		return domain.NewError(domain.KindStorageUpload, op, exportID, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return domain.NewError(domain.KindStorageUpload, op, exportID, err)
	}

	return domain.NewError(domain.KindStorageUnavailable, op, exportID, err)
}

// ContentType picks the object content type from the artifact extension.
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".csv":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
