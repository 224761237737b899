package handler

import (
	"net/http"

	"github.com/hitoshi/cherry/internal/model"
)

// NewAuthConfigHandler はサーバー設定の認証設定を /auth_config.json として返すハンドラーを生成する。
// GET /auth_config.json
func NewAuthConfigHandler(cfg model.AuthConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(w, http.StatusOK, cfg)
	}
}

// Health はプロセスの生存確認に応答する。
// GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
