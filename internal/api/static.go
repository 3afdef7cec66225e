package api

import (
	"net/http"
	"path"
	"strings"
)

// spaHandler serves files from dir and falls back to index.html for any
// path that is not a file, so client-side routes survive a reload.
func spaHandler(dir string) http.Handler {
	root := http.Dir(dir)
	fs := http.FileServer(root)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.NotFound(w, r)
			return
		}
		p := path.Clean("/" + r.URL.Path)
		if strings.HasSuffix(p, ".js") || strings.HasSuffix(p, ".css") {
			w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		}
		if p != "/" && fileExists(root, p) {
			fs.ServeHTTP(w, r)
			return
		}
		if !fileExists(root, "/index.html") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "public, max-age=300")
		http.ServeFile(w, r, path.Join(dir, "index.html"))
	})
}

func fileExists(root http.Dir, name string) bool {
	f, err := root.Open(name)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	return err == nil && !st.IsDir()
}
