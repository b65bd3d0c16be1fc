package apihandlers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexibleRequestFields(t *testing.T) {
	var req GenerateTaxonomyRequest
	require.NoError(t, json.Unmarshal([]byte(`{"worksheet_col_index":" 4 ","header":"True"}`), &req))
	assert.Equal(t, flexInt(4), req.ColumnIndex)
	require.NotNil(t, req.Header)
	assert.True(t, bool(*req.Header))

	assert.Error(t, json.Unmarshal([]byte(`{"header":"maybe"}`), &req))
	assert.Error(t, json.Unmarshal([]byte(`{"worksheet_col_index":true}`), &req))

	var c ClassifyRequest
	require.NoError(t, json.Unmarshal([]byte(`{"text":"a","media_uri":["gs://b/x.png","gs://b/y.mp4"],"embeddings":false}`), &c))
	assert.Equal(t, stringList{"a"}, c.Text)
	assert.Equal(t, stringList{"gs://b/x.png", "gs://b/y.mp4"}, c.MediaURI)
	assert.False(t, bool(c.Embeddings))
}
