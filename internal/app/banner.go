package app

import (
	"fmt"
	"net"
	"strconv"

	"tvrelay/internal/config"
	logx "tvrelay/pkg/logx"
)

// logBanner prints where TradingView should post to. The secret is never logged.
func (a *App) logBanner(cfg *config.Config) {
	if cfg == nil {
		return
	}
	base := "http://" + a.publicAddr(cfg)
	a.log.Info("tvrelay listening",
		logx.String("webhook", base+"/webhook?secret=<redacted>"),
		logx.String("health", base+"/health"),
		logx.String("chat_id", string(cfg.Telegram.ChatID)),
		logx.Bool("audit", a.store != nil),
	)
	if cfg.Server.Pprof.Enabled {
		a.log.Info("pprof enabled", logx.String("url", fmt.Sprintf("%s%s", base, pprofPrefix(cfg.Server.Pprof.Prefix))))
	}
}

// publicAddr prefers the configured host and the bound port (port 0 resolves
// at listen time).
func (a *App) publicAddr(cfg *config.Config) string {
	port := strconv.Itoa(cfg.Server.Port)
	if bound := a.http.Addr(); bound != "" {
		if _, p, err := net.SplitHostPort(bound); err == nil {
			port = p
		}
	}
	return net.JoinHostPort(cfg.Server.Host, port)
}

func pprofPrefix(p string) string {
	if p == "" {
		return "/debug/pprof/"
	}
	return p
}
