package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"tvrelay/internal/config"
	"tvrelay/internal/storage"
	kit "tvrelay/internal/transport"
	logx "tvrelay/pkg/logx"
)

type recordingSender struct {
	mu    sync.Mutex
	to    []kit.ChatTarget
	texts []string
}

func (r *recordingSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.to = append(r.to, to)
	r.texts = append(r.texts, text)
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(r.texts)}, nil
}

func (r *recordingSender) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type notifyLog struct {
	mu     sync.Mutex
	states []string
}

func (n *notifyLog) notify(state string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, state)
	return true, nil
}

func (n *notifyLog) get() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.states...)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func writeConfig(t *testing.T, path string, port int, secret, storePath string) {
	t.Helper()
	body := fmt.Sprintf(`
telegram:
  token: "123:abc"
  chat_id: -100123
server:
  host: 127.0.0.1
  port: %d
webhook:
  secret: %q
dedup:
  window: 5s
logging:
  level: error
storage:
  driver: file
  path: %q
  retention: 24h
`, port, secret, storePath)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func noEnv(string) (string, bool) { return "", false }

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func TestAppRelaysAndAudits(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	storePath := filepath.Join(dir, "audit")
	writeConfig(t, cfgPath, freePort(t), "s3cret", storePath)

	sender := &recordingSender{}
	sd := &notifyLog{}
	a, err := NewApp(cfgPath, WithSender(sender), WithEnvLookup(noEnv), withNotify(sd.notify))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped := false
	defer func() {
		if !stopped {
			_ = a.Stop(context.Background(), StopAppStop)
		}
	}()

	base := "http://" + a.Addr()
	payload := `{"ticker":"BTCUSDT","action":"buy","timeframe":"1h","entry_price":"45000.50","stop_loss":"44000"}`

	if code, _ := post(t, base+"/webhook?secret=wrong", payload); code != http.StatusForbidden {
		t.Fatalf("wrong secret code = %d", code)
	}
	code, body := post(t, base+"/webhook?secret=s3cret", payload)
	if code != http.StatusOK || !strings.Contains(body, `"success"`) {
		t.Fatalf("first post = %d %s", code, body)
	}
	code, body = post(t, base+"/webhook?secret=s3cret", payload)
	if code != http.StatusOK || !strings.Contains(body, `"ignored"`) {
		t.Fatalf("duplicate post = %d %s", code, body)
	}

	sent := sender.sent()
	if len(sent) != 1 || !strings.Contains(sent[0], "BTCUSDT") || !strings.Contains(sent[0], "2.22%") {
		t.Fatalf("sent = %q", sent)
	}
	if sender.to[0].ChatID != -100123 {
		t.Fatalf("target = %+v", sender.to[0])
	}

	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	stopped = true

	states := sd.get()
	if len(states) < 2 || states[0] != readyState || states[len(states)-1] != stoppingState {
		t.Fatalf("sd_notify states = %q", states)
	}

	st, err := storage.Open(storage.Config{Driver: "file", Path: storePath}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	recs, err := st.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	var statuses []string
	for _, r := range recs {
		statuses = append(statuses, r.Status)
	}
	if got := strings.Join(statuses, ","); got != "rejected,success,ignored" {
		t.Fatalf("audit statuses = %s", got)
	}
}

func TestAppReloadsSecret(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	port := freePort(t)
	storePath := filepath.Join(dir, "audit")
	writeConfig(t, cfgPath, port, "old", storePath)

	sender := &recordingSender{}
	a, err := NewApp(cfgPath, WithSender(sender), WithEnvLookup(noEnv), withNotify(func(string) (bool, error) { return false, nil }))
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	base := "http://" + a.Addr()
	writeConfig(t, cfgPath, port, "new", storePath)

	deadline := time.Now().Add(5 * time.Second)
	for i := 0; ; i++ {
		code, _ := post(t, base+"/webhook?secret=new", fmt.Sprintf(`{"message":"ping %d"}`, i))
		if code == http.StatusOK {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("new secret not applied; last code %d", code)
		}
		time.Sleep(100 * time.Millisecond)
	}
	if code, _ := post(t, base+"/webhook?secret=old", `{"message":"late"}`); code != http.StatusForbidden {
		t.Fatalf("old secret still accepted: %d", code)
	}
}

func TestNewAppMissingRequired(t *testing.T) {
	_, err := NewApp("", WithSender(&recordingSender{}), WithEnvLookup(noEnv))
	if !errors.Is(err, config.ErrMissingRequired) {
		t.Fatalf("err = %v, want ErrMissingRequired", err)
	}
}

func TestNewAppFromEnvOnly(t *testing.T) {
	env := map[string]string{
		config.EnvBotToken: "1:x",
		config.EnvChatID:   "@alerts",
		config.EnvSecret:   "s",
		config.EnvHost:     "127.0.0.1",
		config.EnvPort:     fmt.Sprint(freePort(t)),
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }
	a, err := NewApp(filepath.Join(t.TempDir(), "absent.yaml"), WithSender(&recordingSender{}), WithEnvLookup(lookup))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if a.store != nil || a.audit != nil {
		t.Fatal("storage should be disabled by default")
	}
	if got := a.notif.Config().Target; got.Username != "alerts" || got.ChatID != 0 {
		t.Fatalf("target = %+v", got)
	}
}
