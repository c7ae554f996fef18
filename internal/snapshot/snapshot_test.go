package snapshot

import (
	"testing"

	"github.com/clockpipe/clockpipe/internal/cdc"
)

func TestCopyResultSkippedWhenSkipCopyConfigured(t *testing.T) {
	c := &Copier{chunkSize: 100000}
	binding := &cdc.TableBinding{DestTable: "users", SkipCopy: true}
	result := c.copyTable(nil, binding, 0)
	if !result.Skipped {
		t.Errorf("expected Skipped=true for skip_copy binding")
	}
	if result.Err != nil {
		t.Errorf("expected no error, got %v", result.Err)
	}
}
