package billing

import (
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRunLoadConfigError(t *testing.T) {
	t.Setenv("BILLING_API_KEY", "")
	t.Setenv("BILLING_BASE_URL", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")

	err := Run(context.Background(), "test-version")
	if err == nil || !strings.Contains(err.Error(), "load config:") {
		t.Fatalf("Run() error = %v, want load config prefix", err)
	}
}

func TestServeRegistryDirError(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-directory")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer ln.Close()

	err = Serve(context.Background(), &Config{DataDir: file}, ln, "test")
	if err == nil || !strings.Contains(err.Error(), "create registry dir") {
		t.Fatalf("Serve() error = %v, want registry dir error", err)
	}
}

func TestServeAnswersUntilCancelled(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	cfg := &Config{
		DataDir:        t.TempDir(),
		APIKey:         "key",
		BaseURL:        "https://app.test",
		SweepInterval:  time.Hour,
		WebhookTimeout: time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, cfg, ln, "test") }()

	url := "http://" + ln.Addr().String() + "/healthz"
	var body string
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			b, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			body = string(b)
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if body != "ok" {
		t.Fatalf("healthz body = %q, want ok", body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() = %v, want nil after cancel", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not stop after cancel")
	}
}
