// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/daochat/internal/auth"
	"github.com/hitoshi/daochat/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// bearerContextKey はトークン認証されたリクエストであることを示すキー。
	bearerContextKey = contextKey("bearer_auth")
)

// Authenticator は認証情報からユーザーIDを解決するインターフェース。
// auth.Serviceが実装する。
type Authenticator interface {
	Authenticate(ctx context.Context, creds auth.Credentials) (string, error)
}

// NewSessionMiddleware はCookieのセッションIDまたはBearerトークンを検証するミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// 未認証リクエストには401、認証基盤の障害には500を返す。
func NewSessionMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 認証情報を取り出す
			creds := auth.CredentialsFromRequest(r)
			if creds.Empty() {
				WriteUnauthorized(w)
				return
			}

			// 2. 認証
			userID, err := authenticator.Authenticate(r.Context(), creds)
			if errors.Is(err, auth.ErrUnauthenticated) {
				WriteUnauthorized(w)
				return
			}
			if err != nil {
				slog.Error("failed to authenticate request",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			// 3. 認証済みユーザーIDをコンテキストに注入
			setRequestUser(r.Context(), userID)
			ctx := ContextWithUserID(r.Context(), userID)
			if creds.Token != "" {
				ctx = context.WithValue(ctx, bearerContextKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// isBearerAuthenticated はトークンで認証されたリクエストかを返す。
// トークンはCookieのように自動送信されないため、CSRF検証が不要になる。
func isBearerAuthenticated(ctx context.Context) bool {
	v, _ := ctx.Value(bearerContextKey).(bool)
	return v
}

// WriteUnauthorized は401の統一エラーレスポンスを書き込む。
func WriteUnauthorized(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "unauthorized",
		Message:  "ログインが必要です。",
		Category: "auth",
		Action:   "ログインし直してください。",
	})
}
