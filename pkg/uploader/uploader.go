// Package uploader stages sealed bundles in object storage so large
// bundles do not travel inline through the function control plane.
package uploader

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/archive"
)

// multipartThreshold is the part size handed to the transfer manager;
// bundles below it go up in a single request.
const multipartThreshold = 10 * 1024 * 1024

// ParseS3URI splits an s3://bucket/prefix URI into its parts. The prefix
// may be empty.
func ParseS3URI(uri string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("uploader: %q is not an s3:// URI", uri)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("uploader: %q has no bucket", uri)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}

// Uploader stages bundles under a fixed bucket and key prefix. Objects
// are written with provider-managed encryption at rest.
type Uploader struct {
	bucket string
	prefix string
	up     *manager.Uploader
	logger zerolog.Logger
}

// New creates an uploader targeting the given s3://bucket/prefix URI.
func New(client manager.UploadAPIClient, uri string, logger zerolog.Logger) (*Uploader, error) {
	bucket, prefix, err := ParseS3URI(uri)
	if err != nil {
		return nil, err
	}
	return &Uploader{
		bucket: bucket,
		prefix: prefix,
		up: manager.NewUploader(client, func(u *manager.Uploader) {
			u.PartSize = multipartThreshold
		}),
		logger: logger.With().Str("component", "uploader").Logger(),
	}, nil
}

// Upload stages the sealed bundle and returns its object location. The
// key is derived from the function name, so re-uploading a function
// overwrites its previous bundle rather than accumulating objects.
func (u *Uploader) Upload(ctx context.Context, arch *archive.Archive, name string) (string, string, error) {
	f, err := os.Open(arch.Path())
	if err != nil {
		return "", "", fmt.Errorf("uploader: open bundle: %w", err)
	}
	defer f.Close()

	key := path.Join(u.prefix, name+".zip")
	_, err = u.up.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(u.bucket),
		Key:                  aws.String(key),
		Body:                 f,
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
	})
	if err != nil {
		return "", "", fmt.Errorf("uploader: put s3://%s/%s: %w", u.bucket, key, err)
	}

	size, _ := arch.Size()
	u.logger.Debug().
		Str("bucket", u.bucket).
		Str("key", key).
		Int64("size", size).
		Msg("Staged bundle")
	return u.bucket, key, nil
}
