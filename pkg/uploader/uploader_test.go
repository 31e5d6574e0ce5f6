package uploader

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/stewardhq/steward/pkg/archive"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri     string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{uri: "s3://bundles/steward", bucket: "bundles", prefix: "steward"},
		{uri: "s3://bundles", bucket: "bundles", prefix: ""},
		{uri: "s3://bundles/a/b/", bucket: "bundles", prefix: "a/b"},
		{uri: "https://bundles", wantErr: true},
		{uri: "s3://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := ParseS3URI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseS3URI: %v", err)
			}
			if bucket != tt.bucket || prefix != tt.prefix {
				t.Errorf("got %s/%s, want %s/%s", bucket, prefix, tt.bucket, tt.prefix)
			}
		})
	}
}

// fakeS3 records single-part puts; bundles in these tests never reach
// the multipart threshold.
type fakeS3 struct {
	bucket string
	key    string
	sse    s3types.ServerSideEncryption
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.bucket = aws.ToString(in.Bucket)
	f.key = aws.ToString(in.Key)
	f.sse = in.ServerSideEncryption
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	return nil, errors.New("unexpected multipart upload")
}

func TestUpload(t *testing.T) {
	logger := zerolog.New(nil).Level(zerolog.Disabled)

	arch, err := archive.Build(logger, archive.Options{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() { _ = arch.Dispose() }()
	if err := arch.AddContents("bootstrap", []byte("binary")); err != nil {
		t.Fatalf("AddContents: %v", err)
	}
	if err := arch.Seal(); err != nil {
		t.Fatalf("Seal: %v", err)
	}

	fake := &fakeS3{}
	u, err := New(fake, "s3://bundles/steward", logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bucket, key, err := u.Upload(context.Background(), arch, "steward-p")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if bucket != "bundles" || key != "steward/steward-p.zip" {
		t.Errorf("location = %s/%s", bucket, key)
	}
	if fake.bucket != "bundles" || fake.key != "steward/steward-p.zip" {
		t.Errorf("put location = %s/%s", fake.bucket, fake.key)
	}
	if fake.sse != s3types.ServerSideEncryptionAes256 {
		t.Errorf("sse = %s", fake.sse)
	}
}
