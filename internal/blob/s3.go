package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type S3Store struct {
	bucket           string
	prefix           string
	region           string
	endpoint         string
	accessKeyID      string
	secretAccessKey  string
	usePathStyle     bool
	disableChecksums bool
	partSize         int64

	// Client and Uploader are nil in prod and built on first use; tests
	// inject mocks.
	Client   ObjectAPI
	Uploader UploadAPI

	mu sync.Mutex
}

// ObjectAPI abstracts the S3 object calls used for checkpoints (for testing).
type ObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// UploadAPI abstracts the multipart upload manager (for testing).
type UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

func NewS3Store(opts map[string]interface{}) (Store, error) {
	bucket := optString(opts, "bucket")
	region := optString(opts, "region")
	if bucket == "" || region == "" {
		return nil, fmt.Errorf("s3 store requires 'bucket' and 'region' options")
	}

	var partSize int64
	switch v := opts["part_size"].(type) {
	case int:
		partSize = int64(v)
	case int64:
		partSize = v
	case float64:
		partSize = int64(v)
	}

	return &S3Store{
		bucket:           bucket,
		prefix:           optString(opts, "prefix"),
		region:           region,
		endpoint:         firstNonEmpty(optString(opts, "endpoint"), optString(opts, "base_endpoint")),
		accessKeyID:      firstNonEmpty(optString(opts, "access_key_id"), os.Getenv("AWS_ACCESS_KEY_ID")),
		secretAccessKey:  firstNonEmpty(optString(opts, "secret_access_key"), os.Getenv("AWS_SECRET_ACCESS_KEY")),
		usePathStyle:     toBool(opts["path_style"]),
		disableChecksums: toBool(opts["disable_checksums"]),
		partSize:         partSize,
	}, nil
}

func (s *S3Store) clients(ctx context.Context) (ObjectAPI, UploadAPI, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Client != nil && s.Uploader != nil {
		return s.Client, s.Uploader, nil
	}

	awsCfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(s.region),
	}
	// Static keys when configured, the default credential chain otherwise.
	if s.accessKeyID != "" && s.secretAccessKey != "" {
		awsCfgOpts = append(awsCfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKeyID, s.secretAccessKey, ""),
		))
	}
	if s.disableChecksums {
		awsCfgOpts = append(awsCfgOpts, config.WithRequestChecksumCalculation(0))
		awsCfgOpts = append(awsCfgOpts, config.WithResponseChecksumValidation(0))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, awsCfgOpts...)
	if err != nil {
		return nil, nil, fmt.Errorf("aws config load error: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if s.endpoint != "" {
			o.BaseEndpoint = aws.String(s.endpoint)
		}
		o.UsePathStyle = s.usePathStyle
	})
	if s.Client == nil {
		s.Client = client
	}
	if s.Uploader == nil {
		s.Uploader = manager.NewUploader(client, func(u *manager.Uploader) {
			if s.partSize > 0 {
				u.PartSize = s.partSize
			}
		})
	}
	return s.Client, s.Uploader, nil
}

func (s *S3Store) key(k string) string {
	return s.prefix + k
}

func (s *S3Store) Put(ctx context.Context, key, localPath string) error {
	_, uploader, err := s.clients(ctx)
	if err != nil {
		return err
	}
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
		Body:   f,
	})
	if err != nil {
		return fmt.Errorf("s3 upload %s: %w", s.key(key), err)
	}
	return nil
}

func (s *S3Store) PutBytes(ctx context.Context, key string, body []byte) error {
	client, _, err := s.clients(ctx)
	if err != nil {
		return err
	}
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key(key)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", s.key(key), err)
	}
	return nil
}

func (s *S3Store) Get(ctx context.Context, key string) ([]byte, error) {
	client, _, err := s.clients(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("s3 get %s: %w", s.key(key), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}

func init() {
	Register("s3", NewS3Store)
}
