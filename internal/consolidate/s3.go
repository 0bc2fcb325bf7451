package consolidate

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Config selects the bucket the artifacts are uploaded to.
type S3Config struct {
	Bucket   string
	Prefix   string
	Region   string
	Endpoint string
}

// putter is the subset of *s3.Client used for uploads.
type putter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Publisher uploads artifacts to an S3-compatible bucket under Prefix.
type S3Publisher struct {
	client putter
	bucket string
	prefix string
}

// NewS3Publisher loads the default AWS credential chain. If endpoint is set,
// path-style addressing is enabled (MinIO and similar).
func NewS3Publisher(ctx context.Context, cfg S3Config) (*S3Publisher, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	var s3opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Publisher{
		client: s3.NewFromConfig(awsCfg, s3opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (p *S3Publisher) key(file string) string {
	return path.Join(strings.Trim(p.prefix, "/"), filepath.Base(file))
}

func (p *S3Publisher) Publish(ctx context.Context, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()

	in := &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.key(file)),
		Body:   f,
	}
	if ct := contentType(file); ct != "" {
		in.ContentType = aws.String(ct)
	}
	if fi, err := f.Stat(); err == nil {
		in.ContentLength = aws.Int64(fi.Size())
	}
	if _, err := p.client.PutObject(ctx, in); err != nil {
		return fmt.Errorf("s3 put object %s: %w", *in.Key, err)
	}
	return nil
}

func contentType(file string) string {
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".zip":
		return "application/zip"
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	default:
		return mime.TypeByExtension(ext)
	}
}
