package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	office2pdf "github.com/alnah/go-office2pdf"
)

type errorBody struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

type healthBody struct {
	Status  string                `json:"status"`
	Version string                `json:"version,omitempty"`
	Uptime  string                `json:"uptime"`
	Workers int                   `json:"workers"`
	Leases  office2pdf.LeaseStats `json:"leases"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, errorBody{Error: message})
}

// contentDisposition builds an attachment header carrying both an ASCII
// fallback name and the exact UTF-8 name (RFC 6266).
func contentDisposition(filename string) string {
	return `attachment; filename="` + asciiFallback(filename) + `"; filename*=UTF-8''` + url.PathEscape(filename)
}

func asciiFallback(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
