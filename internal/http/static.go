package http

import (
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/jmylchreest/tvstream/internal/assets"
)

// staticHandler serves files from dir, falling back to index.html for
// extensionless paths. An empty dir, or one without an index.html, falls
// back to the embedded status page.
func staticHandler(dir string) http.Handler {
	var root fs.FS = assets.StaticFS()
	if dir != "" {
		root = overlayFS{primary: os.DirFS(dir), fallback: root}
	}
	files := http.FileServerFS(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			http.NotFound(w, r)
			return
		}
		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		if _, err := fs.Stat(root, name); err != nil {
			if strings.Contains(path.Base(name), ".") {
				http.NotFound(w, r)
				return
			}
			r.URL.Path = "/"
			name = "index.html"
		}
		if strings.HasSuffix(name, ".html") {
			w.Header().Set("Cache-Control", "no-cache")
		}
		files.ServeHTTP(w, r)
	})
}

// overlayFS reads from primary and falls back to fallback for missing names.
type overlayFS struct {
	primary  fs.FS
	fallback fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.primary.Open(name)
	if err == nil {
		return f, nil
	}
	if name == "." || !strings.HasSuffix(name, "index.html") {
		return nil, err
	}
	return o.fallback.Open(name)
}
