package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/docstorage/pkg/httpclient"
	"github.com/nao1215/docstorage/pkg/middleware"
	"github.com/nao1215/docstorage/pkg/observability"
)

// maxIndexedBody は検索インデックス同期のためにバッファするレスポンスの上限。
const maxIndexedBody = 1 << 20

// indexOperation は文書操作に伴う検索インデックスの更新種別。
type indexOperation string

const (
	indexNone   indexOperation = ""
	indexUpload indexOperation = "upload"
	indexRename indexOperation = "rename"
	indexDelete indexOperation = "delete"
)

// indexOperationFor はメソッドとエンドポイントからインデックス更新の種別を返す。
func indexOperationFor(method, pattern string) indexOperation {
	switch {
	case method == http.MethodPost && pattern == "/docs/upload":
		return indexUpload
	case method == http.MethodPatch && pattern == "/docs/documents/:id":
		return indexRename
	case method == http.MethodDelete && pattern == "/docs/documents/:id":
		return indexDelete
	default:
		return indexNone
	}
}

// relayAndSync はレスポンスを中継した後に検索インデックスを更新する。
// ボディはバッファ済みなのでContent-Length付きで返し、同期はクライアントへの応答と切り離して行う。
// 同期の失敗はログとメトリクスにだけ残し、クライアントへの応答には影響させない。
func (s *Server) relayAndSync(c *gin.Context, resp *http.Response, op indexOperation, docPath string) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIndexedBody+1))
	if err != nil || len(data) > maxIndexedBody {
		writeHead(c, resp)
		if _, werr := c.Writer.Write(data); werr != nil {
			s.requestLogger(c).WithError(werr).Debug("クライアントへの書き込みに失敗しました")
			return
		}
		if err != nil {
			s.requestLogger(c).WithError(err).Warn("バックエンドからの読み込みが途中で失敗しました")
			return
		}
		s.streamBody(c, resp.Body)
		s.requestLogger(c).Warn("レスポンスが大きすぎるため検索インデックスの同期を省略しました")
		s.countIndexSync(op, observability.OutcomeError)
		return
	}

	copyResponseHeader(c.Writer.Header(), resp.Header)
	if resp.StatusCode != http.StatusNoContent {
		c.Header("Content-Length", strconv.Itoa(len(data)))
	}
	c.Status(resp.StatusCode)
	c.Writer.WriteHeaderNow()
	if _, werr := c.Writer.Write(data); werr != nil {
		s.requestLogger(c).WithError(werr).Debug("クライアントへの書き込みに失敗しました")
	}

	// gin.Contextはハンドラから戻ると再利用されるので、必要な値はここで取り出す
	logger := s.requestLogger(c).WithField("operation", string(op))
	ctx := httpclient.WithAuthorization(
		context.WithoutCancel(c.Request.Context()),
		middleware.GetTranslation(c).Header,
	)
	pathID := path.Base(docPath)

	s.indexSync.Add(1)
	go func() {
		defer s.indexSync.Done()
		if err := s.syncIndex(ctx, op, data, pathID); err != nil {
			logger.WithError(err).Warn("検索インデックスの同期に失敗しました")
		}
	}()
}

// waitIndexSync は実行中の検索インデックス同期がすべて終わるまで待つ。
func (s *Server) waitIndexSync() {
	s.indexSync.Wait()
}

// syncIndex は操作の種別に応じて検索サービスのインデックスを更新する。
func (s *Server) syncIndex(ctx context.Context, op indexOperation, data []byte, pathID string) error {
	search := s.clients[ServiceSearch]

	if op == indexDelete {
		err := search.DeleteJSON(ctx, "/search/delete/"+pathID, nil)
		s.countIndexSyncResult(op, err)
		return err
	}

	docs, err := documentsFromResponse(data)
	if err != nil {
		s.countIndexSync(op, observability.OutcomeError)
		return err
	}
	var errs []error
	for _, doc := range docs {
		if _, ok := doc["doc_id"]; !ok && op == indexRename {
			doc["doc_id"] = idRaw(pathID)
		}
		payload, ok := indexPayload(doc)
		if !ok {
			continue
		}
		err := search.PostJSON(ctx, "/search/index", payload, nil)
		s.countIndexSyncResult(op, err)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Server) countIndexSyncResult(op indexOperation, err error) {
	switch {
	case err == nil:
		s.countIndexSync(op, observability.OutcomeOK)
	case httpclient.IsUnavailable(err):
		s.countIndexSync(op, observability.OutcomeUnavailable)
	default:
		s.countIndexSync(op, observability.OutcomeError)
	}
}

func (s *Server) countIndexSync(op indexOperation, outcome string) {
	s.metrics.IndexSyncTotal.WithLabelValues(string(op), outcome).Inc()
}

// documentsFromResponse はDocumentサービスのレスポンスから文書オブジェクトを取り出す。
// 単一オブジェクト、配列、{documents:[...]} のいずれにも対応する。
func documentsFromResponse(data []byte) ([]map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	var docs []map[string]json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &docs); err != nil {
			return nil, err
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return nil, err
		}
		if raw, ok := obj["documents"]; ok {
			if err := json.Unmarshal(raw, &docs); err != nil {
				return nil, err
			}
		} else {
			docs = []map[string]json.RawMessage{obj}
		}
	default:
		return nil, errors.New("文書オブジェクトではないレスポンスです")
	}
	return docs, nil
}

// indexPayload は文書オブジェクトから検索サービスへの登録内容を組み立てる。doc_idが無ければfalse。
func indexPayload(doc map[string]json.RawMessage) (map[string]any, bool) {
	docID, ok := doc["doc_id"]
	if !ok {
		return nil, false
	}

	metadata := make(map[string]json.RawMessage)
	for _, key := range []string{"filename", "file_type", "file_size", "description"} {
		if raw, ok := doc[key]; ok {
			metadata[key] = raw
		}
	}
	return map[string]any{
		"doc_id":       docID,
		"content_text": stringField(doc, "filename"),
		"doc_metadata": metadata,
	}, true
}
