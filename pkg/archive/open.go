package archive

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Open resolves an archive URL to a Store:
//
//	file:///var/svt/archive   or a bare path
//	s3://bucket/prefix?region=eu-west-1&endpoint=http://localhost:9000
//	gs://bucket/prefix        (requires -tags gcp)
//
// An empty URL selects <dataDir>/archive.
func Open(ctx context.Context, rawURL, dataDir string) (Store, error) {
	if rawURL == "" {
		return NewFileStore(filepath.Join(dataDir, "archive"))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("archive: invalid url %q: %w", rawURL, err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		return NewFileStore(path)
	case "s3":
		region := u.Query().Get("region")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   u.Host,
			Region:   region,
			Endpoint: u.Query().Get("endpoint"),
			Prefix:   keyPrefix(u.Path),
		})
	case "gs":
		return openGCS(ctx, u.Host, keyPrefix(u.Path))
	default:
		return nil, fmt.Errorf("archive: unsupported scheme %q", u.Scheme)
	}
}

// keyPrefix turns "/ledger" into "ledger/".
func keyPrefix(path string) string {
	p := strings.Trim(path, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}
