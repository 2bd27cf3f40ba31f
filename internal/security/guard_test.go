package security

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestValidateURL_Public(t *testing.T) {
	guard := NewGuard()
	for _, u := range []string{
		"https://example.com/avatar.png",
		"http://images.example.org/me.jpg",
		"https://8.8.8.8/pic.png",
	} {
		t.Run(u, func(t *testing.T) {
			if err := guard.ValidateURL(u); err != nil {
				t.Errorf("ValidateURL(%q) = %v", u, err)
			}
		})
	}
}

func TestValidateURL_Blocked(t *testing.T) {
	guard := NewGuard()
	for _, u := range []string{
		"",
		"not-a-url",
		"ftp://example.com/a.png",
		"file:///etc/passwd",
		"data:image/png;base64,AAAA",
		"http://10.0.0.1/a.png",
		"http://172.16.0.1/a.png",
		"http://192.168.1.100/a.png",
		"http://127.0.0.1/a.png",
		"http://localhost/a.png",
		"http://LOCALHOST/a.png",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal/computeMetadata/v1/",
		"http://0.0.0.0/a.png",
		"http://[::1]/a.png",
		"http://[::ffff:127.0.0.1]/a.png",
		"http://[fd00::1]/a.png",
	} {
		t.Run(u, func(t *testing.T) {
			err := guard.ValidateURL(u)
			if !errors.Is(err, ErrUnsafeURL) {
				t.Errorf("ValidateURL(%q) = %v, want ErrUnsafeURL", u, err)
			}
		})
	}
}

func TestNewSafeClient(t *testing.T) {
	client := NewGuard().NewSafeClient(5 * time.Second)
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected a dedicated transport")
	}
}

// httptestサーバーは127.0.0.1で待ち受けるため、Dialerで拒否される。
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewGuard().NewSafeClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected loopback request to be blocked")
	}
}
