package filesink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// pipeUpload streams writes through an io.Pipe into a single object-storage
// upload call, completing (or aborting) the upload when Close runs. This is
// the standard pattern for turning a "whole object, known only at the end"
// SDK upload API into an append-as-you-go io.WriteCloser.
type pipeUpload struct {
	pw   *io.PipeWriter
	done chan error
}

func (p *pipeUpload) Write(b []byte) (int, error) { return p.pw.Write(b) }

func (p *pipeUpload) Close() error {
	if err := p.pw.Close(); err != nil {
		return err
	}
	return <-p.done
}

// openS3 opens an S3 object at s3://bucket/key for streamed, multipart
// upload via the SDK's manager.Uploader.
func openS3(ctx context.Context, u *url.URL) (io.WriteCloser, error) {
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return nil, fmt.Errorf("filesink: s3 output_path must be s3://bucket/key, got %q", u.String())
	}

	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("filesink: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	uploader := manager.NewUploader(client)

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: &bucket,
			Key:    &key,
			Body:   pr,
		})
		pr.CloseWithError(err)
		done <- err
	}()
	return &pipeUpload{pw: pw, done: done}, nil
}
