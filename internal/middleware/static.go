package middleware

import (
	"io/fs"
	"net/http"
	"os"
	"strings"

	"github.com/gluk-w/pingmatrix/internal/respond"
)

// StaticHandler serves the UI directory for paths no route claims.
// Unknown GETs fall through to the file server, write methods get 501 and
// everything else 404.
type StaticHandler struct {
	fs http.FileSystem
}

func NewStaticHandler(fsys fs.FS) *StaticHandler {
	return &StaticHandler{fs: http.FS(fsys)}
}

// NewStaticDirHandler serves files from dir on disk.
func NewStaticDirHandler(dir string) *StaticHandler {
	return NewStaticHandler(os.DirFS(dir))
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		respond.Error(w, http.StatusNotImplemented, "unsupported method "+r.Method)
		return
	default:
		http.NotFound(w, r)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/")
	if path == "" {
		path = "."
	}
	f, err := h.fs.Open(path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	f.Close()
	http.FileServer(h.fs).ServeHTTP(w, r)
}
