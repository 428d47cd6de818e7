package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestParseAllowlist(t *testing.T) {
	a, err := ParseAllowlist(" 127.0.0.0/8, ::1 ,44.24.240.0/20,")
	if err != nil {
		t.Fatalf("ParseAllowlist: %v", err)
	}
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"127.255.0.9", true},
		{"::1", true},
		{"44.24.241.145", true},
		{"44.24.239.1", false},
		{"10.0.0.1", false},
		{"::2", false},
	}
	for _, tt := range tests {
		if got := a.IsAllowed(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsAllowed(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}

	for _, bad := range []string{"10.0.0.0/33", "not-an-ip", "1.2.3"} {
		if _, err := ParseAllowlist(bad); err == nil {
			t.Errorf("ParseAllowlist(%q) expected error", bad)
		}
	}
}

func TestEmptyAllowlistDeniesAll(t *testing.T) {
	a, err := ParseAllowlist("")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Empty() {
		t.Fatal("expected empty allowlist")
	}
	if a.IsAllowed(net.ParseIP("127.0.0.1")) {
		t.Fatal("empty allowlist allowed loopback")
	}
}

func TestRequireAllowlistedUsesPeerAddress(t *testing.T) {
	a, _ := ParseAllowlist("127.0.0.0/8")
	h := RequireAllowlisted(a)(okHandler)

	tests := []struct {
		name   string
		remote string
		xff    string
		want   int
	}{
		{"loopback", "127.0.0.1:5555", "", http.StatusNoContent},
		{"outside", "10.1.2.3:5555", "", http.StatusForbidden},
		{"forwarded header ignored", "10.1.2.3:5555", "127.0.0.1", http.StatusForbidden},
		{"garbage remote", "nonsense", "", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/pings", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
				req.Header.Set("X-Real-IP", tt.xff)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestRequireJSON(t *testing.T) {
	h := RequireJSON(okHandler)
	tests := []struct {
		ct   string
		want int
	}{
		{"", http.StatusNoContent},
		{"application/json", http.StatusNoContent},
		{"application/json; charset=utf-8", http.StatusNoContent},
		{"Application/JSON", http.StatusNoContent},
		{"text/plain", http.StatusBadRequest},
		{"application/x-www-form-urlencoded", http.StatusBadRequest},
		{";;;", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/pings", strings.NewReader("{}"))
		if tt.ct != "" {
			req.Header.Set("Content-Type", tt.ct)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Content-Type %q: status = %d, want %d", tt.ct, rec.Code, tt.want)
		}
	}
}

func TestStaticHandler(t *testing.T) {
	h := NewStaticHandler(fstest.MapFS{
		"index.html":     {Data: []byte("<html>matrix</html>")},
		"js/matrix.js":   {Data: []byte("console.log(1)")},
		"css/matrix.css": {Data: []byte("body{}")},
	})

	tests := []struct {
		method string
		path   string
		want   int
		body   string
	}{
		{http.MethodGet, "/", http.StatusOK, "matrix"},
		{http.MethodGet, "/js/matrix.js", http.StatusOK, "console.log"},
		{http.MethodHead, "/css/matrix.css", http.StatusOK, ""},
		{http.MethodGet, "/missing.html", http.StatusNotFound, ""},
		{http.MethodGet, "/../etc/passwd", http.StatusNotFound, ""},
		{http.MethodPost, "/anything", http.StatusNotImplemented, ""},
		{http.MethodPut, "/index.html", http.StatusNotImplemented, ""},
		{http.MethodDelete, "/pings/1", http.StatusNotImplemented, ""},
		{http.MethodPatch, "/x", http.StatusNotImplemented, ""},
		{http.MethodOptions, "/", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(tt.method, "/", nil)
		req.URL.Path = tt.path
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s %s: status = %d, want %d", tt.method, tt.path, rec.Code, tt.want)
			continue
		}
		if tt.body != "" && !strings.Contains(rec.Body.String(), tt.body) {
			t.Errorf("%s %s: body %q missing %q", tt.method, tt.path, rec.Body.String(), tt.body)
		}
	}
}

func TestStaticDirHandler(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("from disk"), 0644); err != nil {
		t.Fatal(err)
	}
	h := NewStaticDirHandler(dir)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))
	// FileServer redirects /index.html to /.
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "from disk" {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
}
