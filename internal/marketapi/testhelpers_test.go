package marketapi

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"ipocli/internal/config"
)

// fakeSleeper records requested waits without sleeping
type fakeSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (f *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delays = append(f.delays, d)
	return ctx.Err()
}

func (f *fakeSleeper) Delays() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.delays...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAPIConfig(baseURL string) config.APIConfig {
	return config.APIConfig{
		BaseURL:     baseURL,
		AppKey:      "key",
		AppSecret:   "secret",
		Timeout:     5 * time.Second,
		DailyQuota:  100,
		QuotaWarnAt: 0.9,
	}
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 10 * time.Second}
}
