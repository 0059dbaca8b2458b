package checks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autoflow/internal/config"
)

func TestHTTPCheck(t *testing.T) {
	t.Parallel()
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	check := HTTP(srv.URL, time.Second)

	ok, err := check(context.Background())
	if err != nil || !ok {
		t.Fatalf("200 response: ok=%v err=%v", ok, err)
	}

	status = http.StatusInternalServerError
	ok, err = check(context.Background())
	if err != nil {
		t.Fatalf("500 response should not error: %v", err)
	}
	if ok {
		t.Fatal("500 response reported healthy")
	}
}

func TestHTTPCheckConnectionRefused(t *testing.T) {
	t.Parallel()
	check := HTTP("http://127.0.0.1:1", 500*time.Millisecond)
	ok, err := check(context.Background())
	if ok || err == nil {
		t.Fatalf("unreachable target: ok=%v err=%v", ok, err)
	}
}

func TestDiskCheck(t *testing.T) {
	t.Parallel()
	// The temp dir always has at least a byte free and never an exabyte.
	dir := t.TempDir()

	ok, err := Disk(dir, 1)(context.Background())
	if err != nil {
		t.Fatalf("Disk: %v", err)
	}
	if !ok {
		t.Fatal("less than 1MB free in temp dir?")
	}

	ok, err = Disk(dir, 1<<40)(context.Background())
	if err != nil || ok {
		t.Fatalf("exabyte threshold: ok=%v err=%v", ok, err)
	}

	if _, err := Disk(dir+"/missing", 1)(context.Background()); err == nil {
		t.Fatal("missing path must error")
	}
}

func TestFromConfig(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		cfg     config.CheckConfig
		wantErr bool
	}{
		{"http ok", config.CheckConfig{Type: "http", URL: "http://example.com", Timeout: "2s"}, false},
		{"http missing url", config.CheckConfig{Type: "http"}, true},
		{"http bad timeout", config.CheckConfig{Type: "http", URL: "http://example.com", Timeout: "soon"}, true},
		{"disk ok", config.CheckConfig{Type: "disk", Path: "/", MinFreeMB: 100}, false},
		{"disk no threshold", config.CheckConfig{Type: "disk", Path: "/"}, true},
		{"speedtest ok", config.CheckConfig{Type: "speedtest", MinDownloadMbps: 50}, false},
		{"speedtest no threshold", config.CheckConfig{Type: "speedtest"}, true},
		{"unknown", config.CheckConfig{Type: "ping"}, true},
	}
	for _, tc := range cases {
		check, err := FromConfig(tc.cfg)
		if tc.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", tc.name, err)
		}
		if check == nil {
			t.Errorf("%s: nil check", tc.name)
		}
	}
}
