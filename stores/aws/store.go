package aws

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"visual-projects/core"
)

// s3API is the slice of the S3 client this store calls.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type s3Store struct {
	s3Client s3API
	bucket   string
}

// NewStore creates a new S3-based blob store. ETags serve as version
// tokens; compare-and-swap rides on S3 conditional writes (If-Match for
// updates, If-None-Match: * for creates).
func NewStore(bucketName string) *s3Store {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}

	return &s3Store{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucketName,
	}
}

func (s *s3Store) Get(ctx context.Context, path string) (*core.BlobRecord, error) {
	resp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
		}
		return nil, classify(err, path)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object %s: %w", path, err)
	}
	return &core.BlobRecord{Path: path, Content: data, Version: etag(resp.ETag)}, nil
}

func (s *s3Store) List(ctx context.Context, prefix string) ([]core.BlobEntry, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	input := &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Prefix:    aws.String(dir),
		Delimiter: aws.String("/"),
	}

	var contents []s3types.Object
	var commonPrefixes []s3types.CommonPrefix
	for {
		output, err := s.s3Client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, classify(err, prefix)
		}
		contents = append(contents, output.Contents...)
		commonPrefixes = append(commonPrefixes, output.CommonPrefixes...)
		if !aws.ToBool(output.IsTruncated) {
			break
		}
		input.ContinuationToken = output.NextContinuationToken
	}
	// S3 has no real directories; an empty delimiter listing means the
	// prefix does not exist.
	if len(contents) == 0 && len(commonPrefixes) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrBlobNotFound, prefix)
	}

	entries := make([]core.BlobEntry, 0, len(contents)+len(commonPrefixes))
	for _, cp := range commonPrefixes {
		full := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
		entries = append(entries, core.BlobEntry{
			Name: baseName(full),
			Path: full,
			Kind: core.BlobKindDir,
		})
	}
	for _, object := range contents {
		key := aws.ToString(object.Key)
		if key == dir {
			continue
		}
		entries = append(entries, core.BlobEntry{
			Name: baseName(key),
			Path: key,
			Kind: core.BlobKindFile,
		})
	}
	return entries, nil
}

func (s *s3Store) Put(ctx context.Context, path string, content []byte, expectedVersion string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
		Body:   bytes.NewReader(content),
	}
	if expectedVersion == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(expectedVersion)
	}

	resp, err := s.s3Client.PutObject(ctx, input)
	if err != nil {
		return "", classifyWrite(err, path)
	}
	logrus.WithFields(logrus.Fields{"path": path, "etag": etag(resp.ETag)}).Debug("Blob written")
	return etag(resp.ETag), nil
}

// classify maps an S3 read failure onto the closed store error set.
func classify(err error, path string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return fmt.Errorf("%w: %s", core.ErrBlobNotFound, path)
		case "AccessDenied":
			return fmt.Errorf("%w: %v", core.ErrForbidden, err)
		}
	}
	return err
}

// A rejected precondition means the object changed between our read and this
// write, or already exists when we expected to create it.
func classifyWrite(err error, path string) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "PreconditionFailed", "ConditionalRequestConflict":
			return fmt.Errorf("%w: %s", core.ErrVersionConflict, path)
		case "AccessDenied":
			return fmt.Errorf("%w: %v", core.ErrForbidden, err)
		}
	}
	return err
}

// etag strips the quotes S3 wraps around ETag values so tokens compare
// cleanly across Get and Put.
func etag(v *string) string {
	return strings.Trim(aws.ToString(v), `"`)
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
