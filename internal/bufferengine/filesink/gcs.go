package filesink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"
)

// openGCS opens a GCS object at gs://bucket/object for streamed upload.
// storage.Writer is already an io.WriteCloser whose Close commits the
// object, so no pipe-bridging is needed here (unlike S3/Azure).
func openGCS(ctx context.Context, u *url.URL) (io.WriteCloser, error) {
	bucket := u.Host
	object := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || object == "" {
		return nil, fmt.Errorf("filesink: gs output_path must be gs://bucket/object, got %q", u.String())
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("filesink: gcs client: %w", err)
	}
	w := client.Bucket(bucket).Object(object).NewWriter(ctx)
	return &gcsWriter{w: w, client: client}, nil
}

// gcsWriter closes the underlying storage client alongside the object
// writer, since storage.NewClient is opened fresh per sink.
type gcsWriter struct {
	w      *storage.Writer
	client *storage.Client
}

func (g *gcsWriter) Write(b []byte) (int, error) { return g.w.Write(b) }

func (g *gcsWriter) Close() error {
	werr := g.w.Close()
	cerr := g.client.Close()
	if werr != nil {
		return werr
	}
	return cerr
}
