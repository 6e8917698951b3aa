package backup

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// S3StorageProvider mirrors artifacts to an S3 bucket.
type S3StorageProvider struct {
	client   *s3.S3
	uploader *s3manager.Uploader
	bucket   string
	prefix   string
}

// NewS3StorageProvider creates an S3 mirror. Without static keys the default
// AWS credential chain is used.
func NewS3StorageProvider(config S3Config, prefix string) (*S3StorageProvider, error) {
	awsConfig := &aws.Config{
		Region: aws.String(config.Region),
	}
	if config.AccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(config.AccessKey, config.SecretKey, "")
	}
	if config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, NewStorageError("failed to create AWS session", err)
	}

	return &S3StorageProvider{
		client:   s3.New(sess),
		uploader: s3manager.NewUploader(sess),
		bucket:   config.Bucket,
		prefix:   prefix,
	}, nil
}

// Upload streams an artifact to the bucket.
func (s3p *S3StorageProvider) Upload(ctx context.Context, name string, r io.Reader, size int64) error {
	_, err := s3p.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s3p.bucket),
		Key:         aws.String(objectKey(s3p.prefix, name)),
		Body:        r,
		ContentType: aws.String(contentType(name)),
		Metadata: map[string]*string{
			"artifact-size": aws.String(fmt.Sprint(size)),
		},
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to upload %s to S3", name), err)
	}
	return nil
}

// Delete removes an artifact from the bucket.
func (s3p *S3StorageProvider) Delete(ctx context.Context, name string) error {
	_, err := s3p.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s3p.bucket),
		Key:    aws.String(objectKey(s3p.prefix, name)),
	})
	if err != nil {
		return NewStorageError(fmt.Sprintf("failed to delete %s from S3", name), err)
	}
	return nil
}

// List returns the artifact names stored under the prefix.
func (s3p *S3StorageProvider) List(ctx context.Context) ([]string, error) {
	var names []string
	err := s3p.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s3p.bucket),
		Prefix: aws.String(s3p.prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.StringValue(obj.Key), s3p.prefix)
			if IsArtifactName(name) {
				names = append(names, name)
			}
		}
		return true
	})
	if err != nil {
		return nil, NewStorageError("failed to list artifacts in S3", err)
	}
	return names, nil
}

// Location returns the s3:// URL of an artifact.
func (s3p *S3StorageProvider) Location(name string) string {
	return fmt.Sprintf("s3://%s/%s", s3p.bucket, objectKey(s3p.prefix, name))
}

func contentType(name string) string {
	if CompressionFromName(name) == CompressionTypeNone {
		return "application/json"
	}
	return "application/octet-stream"
}
