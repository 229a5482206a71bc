package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// トークン内のクレーム名。
const (
	// ClaimUserID はIdentity/Document/Searchサービスが参照するユーザーIDクレーム。
	ClaimUserID = "user_id"
	// ClaimSubject はSharingサービスが参照する登録済みクレーム。
	ClaimSubject = "sub"
)

// トークン変換で発生するエラー。
var (
	// ErrNoToken はAuthorizationヘッダーが無いことを表す。
	ErrNoToken = errors.New("Authorizationヘッダーがありません")
	// ErrNotBearer はBearer以外の認証スキームであることを表す。
	ErrNotBearer = errors.New("Bearer トークン形式が不正です")
	// ErrInvalidToken は署名・有効期限などの検証に失敗したことを表す。
	ErrInvalidToken = errors.New("トークンが無効です")
	// ErrNoUserID は検証済みトークンにユーザーIDが含まれないことを表す。
	ErrNoUserID = errors.New("トークンにユーザーIDが含まれていません")
)

// NormalizeClaims はクレームを正規化した新しいマップを返す。入力は変更しない。
// user_idがありsubが無ければ sub = str(user_id) を補う。
// subが数値文字列でuser_idが無ければ user_id を補う。
// 2つ目の戻り値は補完が行われたかどうか。
func NormalizeClaims(in jwt.MapClaims) (jwt.MapClaims, bool) {
	out := make(jwt.MapClaims, len(in)+1)
	for k, v := range in {
		out[k] = v
	}

	userID, hasUserID := ClaimString(in[ClaimUserID])
	sub, hasSub := ClaimString(in[ClaimSubject])

	changed := false
	if hasUserID && !hasSub {
		out[ClaimSubject] = userID
		changed = true
	}
	if hasSub && !hasUserID {
		if _, err := strconv.ParseInt(sub, 10, 64); err == nil {
			out[ClaimUserID] = json.Number(sub)
			changed = true
		}
	}
	return out, changed
}

// UserIDFromClaims は正規化済みクレームからユーザーIDを取り出す。
func UserIDFromClaims(claims jwt.MapClaims) (string, bool) {
	if v, ok := ClaimString(claims[ClaimUserID]); ok {
		return v, true
	}
	return ClaimString(claims[ClaimSubject])
}

// ClaimString はクレーム値を文字列表現に変換する。
// 数値は元の表記を保つ。値が無い、空文字列、または文字列化できない型の場合はfalseを返す。
func ClaimString(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case json.Number:
		return x.String(), x.String() != ""
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	default:
		return "", false
	}
}

// SignClaims はクレームをHS256で署名したトークン文字列を返す。
func SignClaims(secret string, claims jwt.MapClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("JWTトークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// Translation はAuthorizationヘッダー1つ分の変換結果。
type Translation struct {
	// Header はバックエンドに転送するAuthorizationヘッダー値。空の場合は送らない。
	Header string
	// Rewritten はトークンを再署名したかどうか。
	Rewritten bool
	// UserID は検証済みトークンのユーザーID。検証に失敗した場合は空。
	UserID string
	// Err は検証に失敗した理由。成功した場合はnil。
	Err error
}

// Authenticated はGateway自身がユーザーIDを信頼できるかどうかを返す。
func (t Translation) Authenticated() bool {
	return t.Err == nil && t.UserID != ""
}

// Translator はBearerトークンを検証し、バックエンド向けに書き換える。
// 署名鍵は起動時に一度だけ設定し、以降は変更しない。
type Translator struct {
	// secret はHMAC署名鍵。
	secret string
	// parser はHS256のみを受け付けるJWTパーサー。
	parser *jwt.Parser
}

// NewTranslator は新しいTranslatorを生成する。
func NewTranslator(secret string) (*Translator, error) {
	if secret == "" {
		return nil, errors.New("JWT署名鍵が空です")
	}
	return &Translator{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithJSONNumber(),
		),
	}, nil
}

// Verify はトークン文字列の署名と有効期限を検証し、クレームを返す。
func (t *Translator) Verify(tokenString string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, err := t.parser.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(t.secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Translate はAuthorizationヘッダー値を検証・正規化し、転送用の値を返す。
// 検証に失敗しても元のヘッダー値をそのまま転送する（判断はバックエンドに任せる）。
func (t *Translator) Translate(authHeader string) Translation {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return Translation{Err: ErrNoToken}
	}

	tokenString, ok := bearerToken(authHeader)
	if !ok {
		return Translation{Header: authHeader, Err: ErrNotBearer}
	}

	claims, err := t.Verify(tokenString)
	if err != nil {
		return Translation{Header: authHeader, Err: err}
	}

	normalized, changed := NormalizeClaims(claims)
	userID, _ := UserIDFromClaims(normalized)
	result := Translation{
		Header: authHeader,
		UserID: userID,
	}
	if userID == "" {
		result.Err = ErrNoUserID
	}
	if !changed {
		return result
	}

	signed, err := SignClaims(t.secret, normalized)
	if err != nil {
		result.Err = err
		return result
	}
	result.Header = "Bearer " + signed
	result.Rewritten = true
	return result
}

// bearerToken は "Bearer <token>" からトークン部分を取り出す。スキーム名は大文字小文字を区別しない。
func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
