package auth

import (
	"net/http"
	"strings"
)

// SessionCookieName はセッションIDを保持するCookie名。
const SessionCookieName = "session_id"

// Credentials はHTTPリクエストまたはWebSocketハンドシェイクから取り出した認証情報。
// SessionIDとTokenのどちらか一方があれば認証を試みる。
type Credentials struct {
	SessionID string
	Token     string
}

// Empty は認証情報が1つも含まれていないかを返す。
func (c Credentials) Empty() bool {
	return c.SessionID == "" && c.Token == ""
}

// CredentialsFromRequest はリクエストから認証情報を取り出す。
// Authorization: Bearer ヘッダーとtokenクエリパラメータはソケットトークンとして扱う。
func CredentialsFromRequest(r *http.Request) Credentials {
	var c Credentials

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		c.SessionID = cookie.Value
	}

	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			c.Token = strings.TrimSpace(token)
		}
	}
	if c.Token == "" {
		c.Token = r.URL.Query().Get("token")
	}

	return c
}
