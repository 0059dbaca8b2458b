// Package checks provides built-in health checks usable as monitor entries.
// Config-declared monitors select one by type; callers may also register
// arbitrary CheckFuncs of their own.
package checks

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"syscall"
	"time"

	"github.com/showwin/speedtest-go/speedtest"

	"autoflow/internal/config"
	"autoflow/internal/monitor"
)

const defaultHTTPTimeout = 10 * time.Second

// HTTP reports healthy when a GET of url answers with a status below 400.
func HTTP(url string, timeout time.Duration) monitor.CheckFunc {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &http.Client{Timeout: timeout}
	return func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return false, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return false, err
		}
		defer resp.Body.Close()
		return resp.StatusCode < 400, nil
	}
}

// Disk reports healthy when the filesystem holding path has at least
// minFreeMB megabytes free for unprivileged use.
func Disk(path string, minFreeMB int64) monitor.CheckFunc {
	return func(ctx context.Context) (bool, error) {
		var st syscall.Statfs_t
		if err := syscall.Statfs(path, &st); err != nil {
			return false, fmt.Errorf("statfs %s: %w", path, err)
		}
		freeMB := int64(st.Bavail) * st.Bsize / (1 << 20)
		return freeMB >= minFreeMB, nil
	}
}

// Speedtest reports healthy when measured download throughput against the
// nearest server reaches minDownloadMbps. The measurement is expensive;
// pair it with a long interval.
func Speedtest(minDownloadMbps float64) monitor.CheckFunc {
	return func(ctx context.Context) (bool, error) {
		// A fresh client per run: the package-level default retains large
		// snapshots across runs.
		st := speedtest.New()
		defer func() {
			st.Snapshots().Clean()
			st.Reset()
		}()

		servers, err := st.FetchServerListContext(ctx)
		if err != nil {
			return false, fmt.Errorf("fetch server list: %w", err)
		}
		if a := servers.Available(); a != nil {
			servers = *a
		}
		if len(servers) == 0 {
			return false, fmt.Errorf("no speedtest servers available")
		}
		sort.Slice(servers, func(i, j int) bool {
			return servers[i].Distance < servers[j].Distance
		})
		srv := servers[0]
		if err := srv.DownloadTestContext(ctx); err != nil {
			return false, fmt.Errorf("download test: %w", err)
		}
		return srv.DLSpeed.Mbps() >= minDownloadMbps, nil
	}
}

// FromConfig builds the check a config entry declares.
func FromConfig(cfg config.CheckConfig) (monitor.CheckFunc, error) {
	switch cfg.Type {
	case "http":
		if cfg.URL == "" {
			return nil, fmt.Errorf("http check: url is required")
		}
		timeout, err := config.ParseDurationOrDefault("check.timeout", cfg.Timeout, defaultHTTPTimeout)
		if err != nil {
			return nil, fmt.Errorf("http check: %w", err)
		}
		return HTTP(cfg.URL, timeout), nil
	case "disk":
		if cfg.Path == "" {
			return nil, fmt.Errorf("disk check: path is required")
		}
		if cfg.MinFreeMB <= 0 {
			return nil, fmt.Errorf("disk check: min_free_mb must be > 0")
		}
		return Disk(cfg.Path, cfg.MinFreeMB), nil
	case "speedtest":
		if cfg.MinDownloadMbps <= 0 {
			return nil, fmt.Errorf("speedtest check: min_download_mbps must be > 0")
		}
		return Speedtest(cfg.MinDownloadMbps), nil
	default:
		return nil, fmt.Errorf("unknown check type %q", cfg.Type)
	}
}
