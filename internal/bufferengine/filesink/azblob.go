package filesink

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// openAzBlob opens a block blob at azblob://account/container/blob for
// streamed upload via UploadStream, which internally stages and commits
// blocks as the reader drains — the same pipe-bridging trick as openS3.
func openAzBlob(ctx context.Context, u *url.URL) (io.WriteCloser, error) {
	account := u.Host
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	if account == "" || len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("filesink: azblob output_path must be azblob://account/container/blob, got %q", u.String())
	}
	container, blobName := parts[0], parts[1]

	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	cred, err := azblob.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("filesink: azure credential: %w", err)
	}
	client, err := azblob.NewClient(serviceURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("filesink: azblob client: %w", err)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := client.UploadStream(ctx, container, blobName, pr, nil)
		pr.CloseWithError(err)
		done <- err
	}()
	return &pipeUpload{pw: pw, done: done}, nil
}
