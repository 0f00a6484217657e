package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "tvrelay/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "nested", "tvrelay.db")
			st, err := Open(Config{Driver: driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()

			t0 := time.UnixMilli(1_700_000_000_000)
			recs := []AlertRecord{
				{At: t0, RequestID: "r1", Fingerprint: "aa", Status: "success", Text: "hello"},
				{At: t0.Add(time.Hour), RequestID: "r2", Status: "rejected", Remote: "1.2.3.4:5"},
				{At: t0.Add(2 * time.Hour), RequestID: "r3", Fingerprint: "cc", Status: "error", Error: "chat not found"},
			}
			for _, r := range recs {
				if err := st.AppendAlert(ctx, r); err != nil {
					t.Fatalf("AppendAlert: %v", err)
				}
			}

			got, err := st.Recent(ctx, 2)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 2 || got[0].RequestID != "r2" || got[1].RequestID != "r3" {
				t.Fatalf("Recent = %+v", got)
			}
			if got[1].Error != "chat not found" || got[0].Remote != "1.2.3.4:5" || !got[1].At.Equal(recs[2].At) {
				t.Fatalf("fields lost: %+v", got)
			}

			n, err := st.PruneBefore(ctx, t0.Add(90*time.Minute))
			if err != nil || n != 2 {
				t.Fatalf("PruneBefore = %d, %v", n, err)
			}
			if n, err := st.PruneBefore(ctx, t0); err != nil || n != 0 {
				t.Fatalf("second PruneBefore = %d, %v", n, err)
			}

			// appends still work after a prune
			if err := st.AppendAlert(ctx, AlertRecord{At: t0.Add(3 * time.Hour), RequestID: "r4", Status: "ignored"}); err != nil {
				t.Fatalf("AppendAlert after prune: %v", err)
			}
			got, err = st.Recent(ctx, 10)
			if err != nil || len(got) != 2 || got[0].RequestID != "r3" || got[1].RequestID != "r4" {
				t.Fatalf("Recent after prune = %+v, %v", got, err)
			}
		})
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "audit")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if err := st.AppendAlert(ctx, AlertRecord{RequestID: "ok", Status: "success"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(path+".alerts.jsonl", os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("{not json\n")
	_ = f.Close()

	got, err := st.Recent(ctx, 5)
	if err != nil || len(got) != 1 || got[0].RequestID != "ok" || got[0].At.IsZero() {
		t.Fatalf("Recent = %+v, %v", got, err)
	}
}
