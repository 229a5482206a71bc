package gateway

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentsFromResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantIDs []string
		wantErr bool
	}{
		{"単一オブジェクト", `{"doc_id":1,"filename":"a.txt"}`, []string{"1"}, false},
		{"配列", `[{"doc_id":1},{"doc_id":2}]`, []string{"1", "2"}, false},
		{"documentsキー", `{"documents":[{"doc_id":3}],"message":"ok"}`, []string{"3"}, false},
		{"空ボディ", ``, nil, false},
		{"JSONでない", `uploaded`, nil, true},
		{"壊れたJSON", `{"doc_id":`, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			docs, err := documentsFromResponse([]byte(tt.body))

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, d := range docs {
				id, ok := rawID(d["doc_id"])
				require.True(t, ok)
				ids = append(ids, id)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestIndexPayload(t *testing.T) {
	t.Parallel()

	t.Run("ファイル名を本文として登録内容を組み立てること", func(t *testing.T) {
		t.Parallel()

		var doc map[string]json.RawMessage
		require.NoError(t, json.Unmarshal([]byte(
			`{"doc_id":7,"filename":"memo.txt","file_type":"text/plain","file_size":12,"upload_date":"2024-01-01"}`), &doc))

		payload, ok := indexPayload(doc)
		require.True(t, ok)

		data, err := json.Marshal(payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"doc_id": 7,
			"content_text": "memo.txt",
			"doc_metadata": {"filename":"memo.txt","file_type":"text/plain","file_size":12}
		}`, string(data))
	})

	t.Run("doc_idが無い場合は登録しないこと", func(t *testing.T) {
		t.Parallel()

		_, ok := indexPayload(map[string]json.RawMessage{"filename": json.RawMessage(`"a"`)})
		assert.False(t, ok)
	})
}

func TestIndexOperationFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, indexUpload, indexOperationFor(http.MethodPost, "/docs/upload"))
	assert.Equal(t, indexRename, indexOperationFor(http.MethodPatch, "/docs/documents/:id"))
	assert.Equal(t, indexDelete, indexOperationFor(http.MethodDelete, "/docs/documents/:id"))
	assert.Equal(t, indexNone, indexOperationFor(http.MethodGet, "/docs/documents/:id"))
	assert.Equal(t, indexNone, indexOperationFor(http.MethodPost, "/search/index"))
}
