package gateway

import (
	"net/http"
	"strings"
)

// Service はバックエンドサービスの識別子。
type Service string

// Gatewayが転送する4つのバックエンド。
const (
	ServiceAuth   Service = "auth"
	ServiceDocs   Service = "docs"
	ServiceSearch Service = "search"
	ServiceShare  Service = "share"
)

// Route はパスプレフィックスとバックエンドの対応。
type Route struct {
	// Service はバックエンドの識別子。
	Service Service
	// Prefix は一致させるパスプレフィックス（例: "/docs"）。
	Prefix string
	// BaseURL はバックエンドのベースURL。末尾に "/" を含まない。
	BaseURL string
	// Name はエラーメッセージに使う表示名（例: "Docs"）。
	Name string
}

// RouteTable は起動時に固定されるルーティング表。生成後は変更しない。
type RouteTable struct {
	routes []Route
}

// NewRouteTable はサービスURLからルーティング表を生成する。
func NewRouteTable(urls ServiceURLs) *RouteTable {
	return &RouteTable{
		routes: []Route{
			{Service: ServiceAuth, Prefix: "/auth", BaseURL: urls.Auth, Name: "Auth"},
			{Service: ServiceDocs, Prefix: "/docs", BaseURL: urls.Docs, Name: "Docs"},
			{Service: ServiceSearch, Prefix: "/search", BaseURL: urls.Search, Name: "Search"},
			{Service: ServiceShare, Prefix: "/share", BaseURL: urls.Share, Name: "Share"},
		},
	}
}

// Routes はルーティング表の全エントリを返す。
func (t *RouteTable) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Target はルーティング結果。
type Target struct {
	// Route は一致したルート。
	Route Route
	// Path はバックエンドに送るパス。プレフィックスを含む。
	Path string
	// RawQuery はクライアントのクエリ文字列。
	RawQuery string
}

// URL はバックエンドの完全なURLを返す。
func (t Target) URL() string {
	u := t.Route.BaseURL + t.Path
	if t.RawQuery != "" {
		u += "?" + t.RawQuery
	}
	return u
}

// Resolve はパスに一致するルートを探す。プレフィックスはセグメント単位で比較する。
// "/docs" と "/docs/" はどちらもバックエンドの "/docs" になる。"/docsx" は一致しない。
func (t *RouteTable) Resolve(path, rawQuery string) (Target, bool) {
	for _, r := range t.routes {
		switch {
		case path == r.Prefix || path == r.Prefix+"/":
			return Target{Route: r, Path: r.Prefix, RawQuery: rawQuery}, true
		case strings.HasPrefix(path, r.Prefix+"/"):
			return Target{Route: r, Path: path, RawQuery: rawQuery}, true
		}
	}
	return Target{}, false
}

// Endpoint はバックエンドが公開するエンドポイント1つ分の能力。
type Endpoint struct {
	// Service はエンドポイントを持つサービス。
	Service Service
	// Pattern はパスパターン。":" で始まるセグメントは任意の値に一致する。
	Pattern string
	// Methods は受け付けるHTTPメソッド。
	Methods []string
	// ExposeHeaders はブラウザに公開するレスポンスヘッダー。
	ExposeHeaders []string
	// StreamMethods はストリーム用タイムアウトを使うメソッド。
	StreamMethods []string
}

// Streams はmethodの呼び出しにストリーム用タイムアウトを使うかどうかを返す。
func (e Endpoint) Streams(method string) bool {
	for _, m := range e.StreamMethods {
		if m == method {
			return true
		}
	}
	return false
}

// downloadHeaders はファイル取得系エンドポイントで公開するヘッダー。
var downloadHeaders = []string{"Content-Disposition", "Content-Type"}

// endpoints はバックエンドのエンドポイント一覧。固定セグメントのパターンを変数セグメントより先に置く。
var endpoints = []Endpoint{
	{Service: ServiceAuth, Pattern: "/auth/register", Methods: []string{http.MethodPost}},
	{Service: ServiceAuth, Pattern: "/auth/login", Methods: []string{http.MethodPost}},
	{Service: ServiceAuth, Pattern: "/auth/user/by-email", Methods: []string{http.MethodPost}},
	{Service: ServiceAuth, Pattern: "/auth/users/lookup", Methods: []string{http.MethodGet}},
	{Service: ServiceAuth, Pattern: "/auth/users/:id", Methods: []string{http.MethodGet}},
	{Service: ServiceAuth, Pattern: "/auth/profile", Methods: []string{http.MethodGet, http.MethodPut}},

	{
		Service:       ServiceDocs,
		Pattern:       "/docs/upload",
		Methods:       []string{http.MethodPost},
		StreamMethods: []string{http.MethodPost},
	},
	{Service: ServiceDocs, Pattern: "/docs/documents", Methods: []string{http.MethodGet}},
	{Service: ServiceDocs, Pattern: "/docs/recent", Methods: []string{http.MethodGet}},
	{
		Service:       ServiceDocs,
		Pattern:       "/docs/documents/:id",
		Methods:       []string{http.MethodGet, http.MethodPatch, http.MethodDelete},
		StreamMethods: []string{http.MethodGet},
	},
	{
		Service:       ServiceDocs,
		Pattern:       "/docs/file/:id",
		Methods:       []string{http.MethodGet},
		ExposeHeaders: downloadHeaders,
		StreamMethods: []string{http.MethodGet},
	},
	{
		Service:       ServiceDocs,
		Pattern:       "/docs/file/:id/thumbnail",
		Methods:       []string{http.MethodGet},
		ExposeHeaders: downloadHeaders,
		StreamMethods: []string{http.MethodGet},
	},
	{Service: ServiceDocs, Pattern: "/docs/file/:id/metadata", Methods: []string{http.MethodGet}},

	{Service: ServiceSearch, Pattern: "/search", Methods: []string{http.MethodGet}},
	{Service: ServiceSearch, Pattern: "/search/index", Methods: []string{http.MethodPost}},
	{Service: ServiceSearch, Pattern: "/search/delete/:id", Methods: []string{http.MethodDelete}},

	{Service: ServiceShare, Pattern: "/share", Methods: []string{http.MethodPost}},
	{Service: ServiceShare, Pattern: "/share/shared-with-me", Methods: []string{http.MethodGet}},
	{Service: ServiceShare, Pattern: "/share/shared-by-me", Methods: []string{http.MethodGet}},
	{Service: ServiceShare, Pattern: "/share/check-access/:doc_id", Methods: []string{http.MethodGet}},
	{Service: ServiceShare, Pattern: "/share/:id", Methods: []string{http.MethodDelete}},
	{Service: ServiceShare, Pattern: "/share/:id/permissions", Methods: []string{http.MethodPatch}},
}

// serviceMethods はエンドポイント一覧に無いパスで使うサービス単位のメソッド。
var serviceMethods = map[Service][]string{
	ServiceAuth:   {http.MethodGet, http.MethodPost, http.MethodPut},
	ServiceDocs:   {http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
	ServiceSearch: {http.MethodGet, http.MethodPost, http.MethodDelete},
	ServiceShare:  {http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
}

// MatchEndpoint はパスに一致するエンドポイントを返す。
func MatchEndpoint(path string) (Endpoint, bool) {
	for _, e := range endpoints {
		if matchPattern(e.Pattern, path) {
			return e, true
		}
	}
	return Endpoint{}, false
}

// matchPattern はパスがパターンにセグメント単位で一致するかを返す。
func matchPattern(pattern, path string) bool {
	want := strings.Split(strings.Trim(pattern, "/"), "/")
	got := strings.Split(strings.Trim(path, "/"), "/")
	if len(want) != len(got) {
		return false
	}
	for i, seg := range want {
		if strings.HasPrefix(seg, ":") {
			if got[i] == "" {
				return false
			}
			continue
		}
		if seg != got[i] {
			return false
		}
	}
	return true
}
