package auth

import "net/http"

// placeholderPage is shown while the session is still initializing. It
// reloads itself so the guard can decide again once the adapter reports.
const placeholderPage = `<!doctype html>
<html><head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body style="min-height:100vh;display:flex;align-items:center;justify-content:center;font-family:sans-serif">Loading...</body></html>`

func renderPlaceholder(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(placeholderPage))
}

// PlaceholderHandler serves the loading placeholder.
func PlaceholderHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		renderPlaceholder(w)
	}
}
