package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/feeder/internal/config"
	"github.com/ppiankov/feeder/internal/store"
)

func TestInit_WritesLoadableConfig(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cfg")
	old := configDir
	t.Cleanup(func() { configDir = old })
	configDir = dir

	out, err := captureStdout(t, func() error { return initAction(nil, nil) })
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	requireContains(t, out, "Initialized "+dir+" with 2 config files.")

	info, err := os.Stat(filepath.Join(dir, config.DefaultEnvFile))
	if err != nil {
		t.Fatalf("stat .env: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf(".env mode = %v, want 0600", info.Mode().Perm())
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("generated config does not load: %v", err)
	}
	if !cfg.Web.Enabled || cfg.Telegram.Enabled || cfg.VK.Enabled {
		t.Errorf("providers = web:%v tg:%v vk:%v", cfg.Web.Enabled, cfg.Telegram.Enabled, cfg.VK.Enabled)
	}

	out, err = captureStdout(t, func() error { return initAction(nil, nil) })
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	requireContains(t, out, "already initialized")
}

func TestRecords_TerminalAndJSON(t *testing.T) {
	_, dbPath := setupConfigDir(t, "")
	seedStore(t, dbPath)

	oldSince, oldKind, oldLimit, oldFormat, oldColor := recordsSince, recordsKind, recordsLimit, recordsFormat, noColor
	t.Cleanup(func() {
		recordsSince, recordsKind, recordsLimit, recordsFormat, noColor = oldSince, oldKind, oldLimit, oldFormat, oldColor
	})
	recordsSince, recordsKind, recordsLimit, recordsFormat, noColor = "", "", 50, "terminal", true

	out, err := captureStdout(t, func() error { return recordsAction(newTestCommand(), nil) })
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	requireContains(t, out, "feeder: 2 sources, 2 records, since 1d")
	requireContains(t, out, "--- Web (1) ---")
	requireContains(t, out, "Go Blog: Go 1.26 released")
	requireContains(t, out, "club: wall post")
	if strings.Contains(out, "Ancient") {
		t.Error("record outside the window shown")
	}

	recordsSince, recordsKind, recordsFormat = "0", "vk", "json"
	out, err = captureStdout(t, func() error { return recordsAction(newTestCommand(), nil) })
	if err != nil {
		t.Fatalf("records json: %v", err)
	}
	requireContains(t, out, `"kind": "VK"`)
	if strings.Contains(out, "Go Blog") {
		t.Errorf("kind filter ignored:\n%s", out)
	}
}

func TestRecords_BadFlags(t *testing.T) {
	setupConfigDir(t, "")
	oldSince, oldFormat := recordsSince, recordsFormat
	t.Cleanup(func() { recordsSince, recordsFormat = oldSince, oldFormat })

	recordsSince, recordsFormat = "yesterday", "terminal"
	if err := recordsAction(newTestCommand(), nil); err == nil {
		t.Error("expected error for bad --since")
	}
	recordsSince, recordsFormat = "", "html"
	if err := recordsAction(newTestCommand(), nil); err == nil {
		t.Error("expected error for bad --format")
	}
}

func TestSources_List(t *testing.T) {
	_, dbPath := setupConfigDir(t, "")

	oldKind := sourcesKind
	t.Cleanup(func() { sourcesKind = oldKind })
	sourcesKind = ""

	out, err := captureStdout(t, func() error { return sourcesAction(newTestCommand(), nil) })
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	requireContains(t, out, "No sources stored yet.")

	seedStore(t, dbPath)
	sourcesKind = "web"
	out, err = captureStdout(t, func() error { return sourcesAction(newTestCommand(), nil) })
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	requireContains(t, out, "Go Blog")
	requireContains(t, out, "never")
	if strings.Contains(out, "club") {
		t.Errorf("kind filter ignored:\n%s", out)
	}
}

func TestSync_WebOnly(t *testing.T) {
	setupConfigDir(t, "")
	oldDepth, oldKind := syncDepth, syncKind
	t.Cleanup(func() { syncDepth, syncKind = oldDepth, oldKind })

	syncDepth, syncKind = "2d", "web"
	out, err := captureStdout(t, func() error { return syncAction(newTestCommand(), nil) })
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	requireContains(t, out, "Synchronized 2 days of history")
}

func TestSync_DisabledKind(t *testing.T) {
	setupConfigDir(t, "")
	oldDepth, oldKind := syncDepth, syncKind
	t.Cleanup(func() { syncDepth, syncKind = oldDepth, oldKind })

	syncDepth, syncKind = "", "vk"
	err := syncAction(newTestCommand(), nil)
	if err == nil || !strings.Contains(err.Error(), "enable it in") {
		t.Fatalf("err = %v, want kind conflict", err)
	}
}

func TestSearch_StoresDiscoveredFeed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Test Feed</title><link>https://example.com</link>
<item><title>First</title><link>https://example.com/1</link><guid>1</guid><pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate></item>
</channel></rss>`)
	}))
	defer ts.Close()

	_, dbPath := setupConfigDir(t, "")

	out, err := captureStdout(t, func() error { return searchAction(newTestCommand(), []string{ts.URL}) })
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	requireContains(t, out, "Found 1 sources")
	requireContains(t, out, "Test Feed")

	st := openStoreForTest(t, dbPath)
	records, err := st.ListRecords(context.Background(), store.RecordFilter{})
	if err != nil {
		t.Fatalf("list records: %v", err)
	}
	if len(records) != 1 || records[0].Record.ExternalLink != "https://example.com/1" {
		t.Errorf("records = %+v", records)
	}
}

func TestDoctor(t *testing.T) {
	_, dbPath := setupConfigDir(t, "")
	seedStore(t, dbPath)

	out, err := captureStdout(t, func() error { return doctorAction(newTestCommand(), nil) })
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, out)
	}
	requireContains(t, out, "config.yaml (providers: WEB)")
	requireContains(t, out, "(2 sources, 3 records, 0 files)")
	requireContains(t, out, "All checks passed.")
}

func TestDoctor_BadConfig(t *testing.T) {
	old := configDir
	t.Cleanup(func() { configDir = old })
	configDir = t.TempDir()

	out, err := captureStdout(t, func() error { return doctorAction(newTestCommand(), nil) })
	if err == nil {
		t.Fatal("expected failure without config.yaml")
	}
	requireContains(t, out, "[FAIL] config.yaml")
}

func TestRun_ServesAPIUntilCancelled(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := l.Addr().String()
	_ = l.Close()

	setupConfigDir(t, "")
	oldSync, oldAddr := runSync, runAddr
	t.Cleanup(func() { runSync, runAddr = oldSync, oldAddr })
	runSync, runAddr = true, addr

	ctx, cancel := context.WithCancel(context.Background())
	cmd := newTestCommand()
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- runAction(cmd, nil) }()

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = http.Get("http://" + addr + "/health")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("api never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("health status = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
}
