package openapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	doc, err := Load()
	require.NoError(t, err)

	for _, path := range []string{
		"/workflows", "/workflows/{workflow_id}", "/outcomes", "/requests",
		"/requests/pending", "/requests/history", "/requests/{request_id}",
		"/requests/{request_id}/decisions", "/requests/{request_id}/approve",
		"/requests/{request_id}/reject", "/gates/{validation_run_id}",
	} {
		assert.NotNil(t, doc.Paths.Find(path), path)
	}
}
