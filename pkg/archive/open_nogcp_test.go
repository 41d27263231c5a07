//go:build !gcp

package archive

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpen_GCSRequiresBuildTag(t *testing.T) {
	_, err := Open(context.Background(), "gs://bucket/ledger", t.TempDir())
	assert.ErrorContains(t, err, "-tags gcp")
}
