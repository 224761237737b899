package middleware

import "net/http"

// contentSecurityPolicy はBulmaのCDNとhttpsのアバター画像のみを許可する。
// ログインフォームの送信後はIdPへリダイレクトするため、form-actionにhttpsを含める。
const contentSecurityPolicy = "default-src 'self'; " +
	"style-src 'self' https://cdn.jsdelivr.net; " +
	"img-src 'self' https:; " +
	"form-action 'self' https:; " +
	"frame-ancestors 'none'; " +
	"base-uri 'none'"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			w.Header().Set("Content-Security-Policy", contentSecurityPolicy)
			next.ServeHTTP(w, r)
		})
	}
}
