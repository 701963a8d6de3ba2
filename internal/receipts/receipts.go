// Package receipts stores uploaded receipt files and hands back the URL the
// lifecycle engine records on the job. The engine only ever sees that opaque
// string; storage backend choice (S3 or local disk) lives here.
package receipts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"field-dispatch/internal/config"
)

// ErrTooLarge is returned when an upload exceeds the configured size cap.
var ErrTooLarge = errors.New("receipts: file too large")

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// Service accepts receipt uploads and returns stored-file URLs.
type Service struct {
	dest       uploader
	maxBytes   int64
	thumbWidth int
}

// NewService picks the uploader from config: S3 when a bucket is set,
// otherwise a local directory.
func NewService(ctx context.Context, cfg config.Config) (*Service, error) {
	maxBytes := cfg.ReceiptMaxBytes
	if maxBytes == 0 {
		maxBytes = 10 * 1024 * 1024
	}
	thumbWidth := cfg.ThumbnailWidth
	if thumbWidth == 0 {
		thumbWidth = 320
	}

	var dest uploader
	if cfg.ReceiptS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		dest = &s3Uploader{client: client, bucket: cfg.ReceiptS3Bucket}
	} else {
		baseDir := cfg.ReceiptOutputDir
		if baseDir == "" {
			baseDir = "./receipts"
		}
		dest = &localUploader{baseDir: baseDir}
	}

	return &Service{dest: dest, maxBytes: maxBytes, thumbWidth: thumbWidth}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ReceiptS3Region),
	}
	if cfg.ReceiptS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ReceiptS3Endpoint,
					HostnameImmutable: cfg.ReceiptS3PathStyle,
					SigningRegion:     cfg.ReceiptS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ReceiptS3PathStyle
	}), nil
}

// Store saves one receipt and returns its URL. Image receipts additionally get
// a thumbnail stored alongside; thumbnail failures never fail the upload.
func (s *Service) Store(ctx context.Context, jobNumber, filename string, r io.Reader, contentType string) (string, error) {
	limited := io.LimitReader(r, s.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return "", fmt.Errorf("read upload: %w", err)
	}
	if int64(len(body)) > s.maxBytes {
		return "", fmt.Errorf("%w (>%d bytes)", ErrTooLarge, s.maxBytes)
	}

	key := receiptKey(jobNumber, filename)
	url, err := s.dest.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", fmt.Errorf("upload receipt: %w", err)
	}

	if thumb, ok := s.thumbnail(body); ok {
		thumbKey := thumbKeyFor(key)
		// Best effort: the receipt itself is already stored.
		_, _ = s.dest.Upload(ctx, thumbKey, thumb, "image/jpeg")
	}

	return url, nil
}

// thumbnail renders a small JPEG preview when the upload is a decodable image.
// PDFs and other documents are skipped.
func (s *Service) thumbnail(body []byte) ([]byte, bool) {
	img, _, err := image.Decode(bytes.NewReader(body))
	if err != nil {
		return nil, false
	}
	small := imaging.Resize(img, s.thumbWidth, 0, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, small, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

func receiptKey(jobNumber, filename string) string {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = "receipt"
	}
	return sanitizeKey(fmt.Sprintf("receipts/%s/%s", jobNumber, name))
}

func thumbKeyFor(key string) string {
	dir, name := filepath.Split(key)
	return dir + "thumb_" + strings.TrimSuffix(name, filepath.Ext(name)) + ".jpg"
}

func sanitizeKey(key string) string {
	key = filepath.Clean(key)
	key = strings.TrimPrefix(key, string(filepath.Separator))
	key = strings.TrimPrefix(key, "./")
	return key
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
