package httpserver

import (
	"crypto/subtle"
	"net/http"
	"net/http/pprof"
	"strings"

	logx "tvrelay/pkg/logx"
)

type PprofConfig struct {
	Enabled bool
	Prefix  string
	Token   string
}

const pprofRoot = "/debug/pprof/"

func mountPprof(mux *http.ServeMux, cfg PprofConfig, log logx.Logger) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		log.Warn("pprof enabled without token")
	}
	prefix := normalizePrefix(cfg.Prefix)
	handlers := map[string]http.HandlerFunc{
		"":        pprofIndexAt(prefix),
		"cmdline": pprof.Cmdline,
		"profile": pprof.Profile,
		"symbol":  pprof.Symbol,
		"trace":   pprof.Trace,
	}
	for name, h := range handlers {
		mux.Handle(prefix+name, requireToken(token, h))
	}
}

// requireToken accepts "?token=" or "Authorization: Bearer". An empty token
// leaves h open.
func requireToken(token string, h http.Handler) http.Handler {
	if token == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			got = strings.TrimSpace(got)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return pprofRoot
	}
	return "/" + p + "/"
}

// pprofIndexAt serves pprof.Index under prefix; Index resolves profile names
// relative to /debug/pprof/.
func pprofIndexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = pprofRoot + strings.TrimPrefix(r.URL.Path, prefix)
		pprof.Index(w, r2)
	}
}
