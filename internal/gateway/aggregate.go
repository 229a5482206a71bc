package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/docstorage/pkg/httpclient"
	"github.com/nao1215/docstorage/pkg/middleware"
)

// プレースホルダーのメタデータ。Documentサービスから取得できなかった文書に使う。
const (
	placeholderFileType = "application/octet-stream"
	placeholderFileSize = "0"
)

// createShareRequest は共有作成リクエスト。受信者はIDかメールアドレスのどちらかで指定する。
type createShareRequest struct {
	// DocID は共有する文書のID。
	DocID json.Number `json:"doc_id"`
	// RecipientID は受信者のユーザーID。
	RecipientID json.Number `json:"recipient_id"`
	// RecipientEmail は受信者のメールアドレス。
	RecipientEmail string `json:"recipient_email"`
	// Permissions は共有権限。Sharingサービスにそのまま渡す。
	Permissions json.RawMessage `json:"permissions"`
	// ExpiryDate は共有の有効期限。Sharingサービスにそのまま渡す。
	ExpiryDate json.RawMessage `json:"expiry_date"`
}

// userLookupResponse はIdentityサービスのメールアドレス検索結果。
type userLookupResponse struct {
	// UserID はユーザーID。
	UserID json.Number `json:"user_id"`
}

// aggregateContext はGatewayからバックエンドを呼ぶためのcontextを返す。
// 利用者の変換済みトークンをすべての呼び出しに伝播する。
func aggregateContext(c *gin.Context) context.Context {
	return httpclient.WithAuthorization(c.Request.Context(), middleware.GetTranslation(c).Header)
}

// handleCreateShare は共有作成ハンドラを返す。
// 受信者の解決、文書の存在確認を行ってからSharingサービスに共有を作成させる。
// 途中のいずれかが失敗した場合はそのステータスをそのまま返す。
func (s *Server) handleCreateShare() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createShareRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidRequest})
			return
		}
		if !isPositiveInt(req.DocID.String()) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "doc_id is required"})
			return
		}

		ctx := aggregateContext(c)
		recipientID := req.RecipientID.String()
		if recipientID == "" {
			if req.RecipientEmail == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "recipient_id or recipient_email is required"})
				return
			}
			var lookup userLookupResponse
			err := s.clients[ServiceAuth].PostJSON(ctx, "/auth/user/by-email", gin.H{"email": req.RecipientEmail}, &lookup)
			if err != nil {
				s.respondError(c, err)
				return
			}
			recipientID = lookup.UserID.String()
		}
		if !isPositiveInt(recipientID) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Recipient not found"})
			return
		}
		if recipientID == middleware.GetUserID(c) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Cannot share a document with yourself"})
			return
		}

		var metadata map[string]json.RawMessage
		if err := s.clients[ServiceDocs].GetJSON(ctx, "/docs/file/"+req.DocID.String()+"/metadata", "", &metadata); err != nil {
			s.respondError(c, err)
			return
		}
		displayName := stringField(metadata, "filename")
		originalName := stringField(metadata, "original_filename")
		if originalName == "" {
			originalName = displayName
		}

		share := map[string]any{
			"doc_id":            req.DocID,
			"recipient_id":      json.Number(recipientID),
			"display_name":      displayName,
			"original_filename": originalName,
		}
		if len(req.Permissions) > 0 {
			share["permissions"] = req.Permissions
		}
		if len(req.ExpiryDate) > 0 {
			share["expiry_date"] = req.ExpiryDate
		}
		body, err := json.Marshal(share)
		if err != nil {
			s.respondError(c, err)
			return
		}

		header := http.Header{}
		header.Set("Content-Type", "application/json")
		header.Set("Accept", "application/json")
		resp, err := s.clients[ServiceShare].Do(ctx, &httpclient.Request{
			Method:        http.MethodPost,
			Path:          "/share",
			Header:        header,
			Body:          bytes.NewReader(body),
			ContentLength: int64(len(body)),
		})
		if err != nil {
			s.respondError(c, err)
			return
		}
		defer resp.Body.Close()
		s.relay(c, resp)
	}
}

// docSummary は共有一覧に付与する文書メタデータ。
type docSummary struct {
	fields      map[string]json.RawMessage
	placeholder bool
}

// placeholderSummary はメタデータを取得できなかった文書の代替値を返す。
func placeholderSummary(docID string) docSummary {
	name, _ := json.Marshal("Document " + docID)
	fileType, _ := json.Marshal(placeholderFileType)
	return docSummary{
		fields: map[string]json.RawMessage{
			"filename":  name,
			"file_type": fileType,
			"file_size": json.RawMessage(placeholderFileSize),
		},
		placeholder: true,
	}
}

// fetchSummary は文書のメタデータを取得する。取得に失敗した場合はプレースホルダーを返す。
// 呼び出し元のcontextが終了している場合だけエラーを返す。
func (s *Server) fetchSummary(ctx context.Context, c *gin.Context, docID string) (docSummary, error) {
	var metadata map[string]json.RawMessage
	err := s.clients[ServiceDocs].GetJSON(ctx, "/docs/file/"+docID+"/metadata", "", &metadata)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return docSummary{}, err
		}
		s.requestLogger(c).WithError(err).WithField("doc_id", docID).
			Warn("文書メタデータを取得できないためプレースホルダーを使用します")
		return placeholderSummary(docID), nil
	}

	summary := placeholderSummary(docID)
	summary.placeholder = false
	for _, key := range []string{"filename", "file_type", "file_size"} {
		if raw, ok := metadata[key]; ok && !isNull(raw) {
			summary.fields[key] = raw
		}
	}
	return summary, nil
}

// handleSharedList は共有一覧の各要素に文書メタデータを付与するハンドラを返す。
// メタデータは要素の順に1件ずつ取得し、同じdoc_idは1回だけ問い合わせる。
func (s *Server) handleSharedList(listPath string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := aggregateContext(c)

		var items []map[string]json.RawMessage
		if err := s.clients[ServiceShare].GetJSON(ctx, listPath, c.Request.URL.RawQuery, &items); err != nil {
			s.respondError(c, err)
			return
		}

		summaries := make(map[string]docSummary)
		for _, item := range items {
			docID, ok := rawID(item["doc_id"])
			if !ok {
				continue
			}
			summary, seen := summaries[docID]
			if !seen {
				var err error
				summary, err = s.fetchSummary(ctx, c, docID)
				if err != nil {
					s.respondError(c, err)
					return
				}
				summaries[docID] = summary
			}
			for key, raw := range summary.fields {
				item[key] = raw
			}
			if summary.placeholder {
				s.metrics.EnrichmentFallbacksTotal.WithLabelValues(listPath).Inc()
			}
		}

		if items == nil {
			items = []map[string]json.RawMessage{}
		}
		c.JSON(http.StatusOK, items)
	}
}

// handleSearch は検索結果に自分宛ての共有文書を加えるハンドラを返す。
// Searchサービスは必須、Sharingサービスは失敗しても共有分を加えないだけで続行する。
func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := aggregateContext(c)

		var payload map[string]json.RawMessage
		if err := s.clients[ServiceSearch].GetJSON(ctx, "/search", c.Request.URL.RawQuery, &payload); err != nil {
			s.respondError(c, err)
			return
		}
		if payload == nil {
			payload = make(map[string]json.RawMessage)
		}

		var results []json.RawMessage
		if raw, ok := payload["results"]; ok && !isNull(raw) {
			if err := json.Unmarshal(raw, &results); err != nil {
				s.respondError(c, err)
				return
			}
		}

		terms := strings.Fields(strings.ToLower(c.Query("q")))
		if len(terms) > 0 {
			var shares []map[string]json.RawMessage
			if err := s.clients[ServiceShare].GetJSON(ctx, "/share/shared-with-me", "", &shares); err != nil {
				if ctx.Err() != nil {
					s.respondError(c, err)
					return
				}
				s.requestLogger(c).WithError(err).Warn("共有文書を取得できないため検索結果に含めません")
			}
			results = appendSharedHits(results, shares, terms)
		}

		merged, err := json.Marshal(resultsOrEmpty(results))
		if err != nil {
			s.respondError(c, err)
			return
		}
		payload["results"] = merged
		payload["total"] = json.RawMessage(strconv.Itoa(len(results)))
		c.JSON(http.StatusOK, payload)
	}
}

// appendSharedHits はすべての検索語を名前に含む共有文書を結果に加える。
// 既にキーワード検索でヒットしている文書は加えない。
func appendSharedHits(results []json.RawMessage, shares []map[string]json.RawMessage, terms []string) []json.RawMessage {
	hits := make(map[string]struct{}, len(results))
	for _, raw := range results {
		var r map[string]json.RawMessage
		if err := json.Unmarshal(raw, &r); err != nil {
			continue
		}
		if id, ok := rawID(r["doc_id"]); ok {
			hits[id] = struct{}{}
		}
	}

	for _, share := range shares {
		id, ok := rawID(share["doc_id"])
		if !ok {
			continue
		}
		if _, dup := hits[id]; dup {
			continue
		}
		displayName := stringField(share, "display_name")
		originalName := stringField(share, "original_filename")
		if !containsAll(strings.ToLower(displayName+" "+originalName), terms) {
			continue
		}

		filename := displayName
		if filename == "" {
			filename = originalName
		}
		entry, err := json.Marshal(map[string]any{
			"doc_id": share["doc_id"],
			"metadata": map[string]any{
				"filename": filename,
				"shared":   true,
				"share_id": share["share_id"],
				"owner_id": share["owner_id"],
			},
			"rank": 0,
		})
		if err != nil {
			continue
		}
		results = append(results, entry)
		hits[id] = struct{}{}
	}
	return results
}

// containsAll はtextがすべての語を含むかどうかを返す。
func containsAll(text string, terms []string) bool {
	for _, term := range terms {
		if !strings.Contains(text, term) {
			return false
		}
	}
	return true
}

func resultsOrEmpty(results []json.RawMessage) []json.RawMessage {
	if results == nil {
		return []json.RawMessage{}
	}
	return results
}

// rawID はJSON値（数値または文字列）をIDの文字列表現に変換する。
func rawID(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", false
	}
	return middleware.ClaimString(v)
}

// idRaw はID文字列をJSON値に変換する。数値ならそのまま、それ以外は文字列にする。
func idRaw(id string) json.RawMessage {
	if isPositiveInt(id) {
		return json.RawMessage(id)
	}
	b, _ := json.Marshal(id)
	return b
}

// stringField はJSONオブジェクトの文字列フィールドを返す。無い場合や文字列でない場合は空文字列。
func stringField(obj map[string]json.RawMessage, key string) string {
	raw, ok := obj[key]
	if !ok {
		return ""
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return v
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || string(bytes.TrimSpace(raw)) == "null"
}

func isPositiveInt(s string) bool {
	n, err := strconv.ParseInt(s, 10, 64)
	return err == nil && n > 0
}
