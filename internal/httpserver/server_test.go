package httpserver

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	logx "tvrelay/pkg/logx"
)

func waitForHTTP(ctx context.Context, url string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		reqCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, http.NoBody)
		if err != nil {
			cancel()
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		cancel()
		if err == nil && resp != nil {
			_ = resp.Body.Close()
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func get(t *testing.T, url, bearer string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func pingRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

func TestServiceStartServeStop(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, pingRoutes, logx.Nop())
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("expected bound address")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/ping"); err != nil {
		t.Fatalf("not reachable: %v", err)
	}
	if code, body := get(t, "http://"+addr+"/ping", ""); code != http.StatusOK || body != "pong" {
		t.Fatalf("GET /ping = %d %q", code, body)
	}
	// pprof is off by default
	if code, _ := get(t, "http://"+addr+"/debug/pprof/", ""); code != http.StatusNotFound {
		t.Fatalf("pprof code = %d, want 404", code)
	}

	srv.Stop(ctx)
	if a := srv.Addr(); a != "" {
		t.Fatalf("Addr after Stop = %q", a)
	}
	if _, err := http.Get("http://" + addr + "/ping"); err == nil {
		t.Fatal("listener still accepting after Stop")
	}
}

func TestStartFailsOnBusyAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	srv := New(Config{Addr: ln.Addr().String()}, pingRoutes, logx.Nop())
	if err := srv.Start(context.Background()); err == nil {
		srv.Stop(context.Background())
		t.Fatal("expected listen error")
	}
}

func TestPprofToken(t *testing.T) {
	cfg := Config{Addr: "127.0.0.1:0", Pprof: PprofConfig{Enabled: true, Prefix: "dbg", Token: "s3"}}
	srv := New(cfg, pingRoutes, logx.Nop())
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	base := "http://" + srv.Addr()
	if err := waitForHTTP(ctx, base+"/ping"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		url    string
		bearer string
		want   int
	}{
		{"no token", base + "/dbg/", "", http.StatusUnauthorized},
		{"bad query token", base + "/dbg/?token=nope", "", http.StatusUnauthorized},
		{"query token", base + "/dbg/?token=s3", "", http.StatusOK},
		{"bearer", base + "/dbg/cmdline", "s3", http.StatusOK},
		{"bad bearer", base + "/dbg/cmdline", "x", http.StatusUnauthorized},
		{"app route unaffected", base + "/ping", "", http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if code, _ := get(t, tc.url, tc.bearer); code != tc.want {
				t.Fatalf("code = %d, want %d", code, tc.want)
			}
		})
	}
}

func TestReconfigureRestartsOnAddrChange(t *testing.T) {
	srv := New(Config{Addr: "127.0.0.1:0"}, pingRoutes, logx.Nop())
	t.Cleanup(func() { srv.Stop(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatal(err)
	}
	first := srv.Addr()

	// same config: no restart
	if err := srv.Reconfigure(ctx, Config{Addr: "127.0.0.1:0"}); err != nil {
		t.Fatal(err)
	}
	if srv.Addr() != first {
		t.Fatalf("addr changed without restart: %s -> %s", first, srv.Addr())
	}

	if err := srv.Reconfigure(ctx, Config{Addr: "127.0.0.1:0", Pprof: PprofConfig{Enabled: true}}); err != nil {
		t.Fatalf("Reconfigure: %v", err)
	}
	addr := srv.Addr()
	if addr == "" {
		t.Fatal("not listening after reconfigure")
	}
	if err := waitForHTTP(ctx, "http://"+addr+"/ping"); err != nil {
		t.Fatal(err)
	}
	if code, body := get(t, "http://"+addr+"/debug/pprof/", ""); code != http.StatusOK || !strings.Contains(body, "goroutine") {
		t.Fatalf("pprof index = %d", code)
	}
}

func TestNormalizePrefix(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"":              "/debug/pprof/",
		"dbg":           "/dbg/",
		"/x/":           "/x/",
		" /debug/pprof": "/debug/pprof/",
	}
	for in, want := range tests {
		if got := normalizePrefix(in); got != want {
			t.Fatalf("normalizePrefix(%q) = %q, want %q", in, got, want)
		}
	}
}
