package filesink

import (
	"net/url"
	"os"
	"path/filepath"
)

// openLocal opens (creating parent directories as needed) a local file for
// writing, truncating it if it already exists, honoring both
// file:///abs/path and bare abs/path forms of outputPath.
func openLocal(u *url.URL) (*os.File, error) {
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if path == "" {
		path = u.Host
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}
