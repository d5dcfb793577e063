package routing

import (
	"encoding/hex"
	"encoding/json"
	"html"
	"mime"
	"net/http"
	"strings"
)

// ErrorEnvelope is the JSON body of every non-UI error response.
type ErrorEnvelope struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	TraceID string            `json:"trace_id"`
	Meta    ErrorEnvelopeMeta `json:"meta"`
}

type ErrorEnvelopeMeta struct {
	Path   string `json:"path"`
	Method string `json:"method"`
}

const zeroTraceID = "00000000000000000000000000000000"

// WriteError answers with an ErrorEnvelope, or a minimal HTML page for UI
// and static routes when the client did not ask for JSON.
func WriteError(w http.ResponseWriter, r *http.Request, rc RouteClass, status int, code string, message string) {
	if rc != RouteClassUI && rc != RouteClassStatic || wantsJSON(r) {
		WriteJSON(w, status, ErrorEnvelope{
			Code:    code,
			Message: message,
			TraceID: traceIDFromRequest(r),
			Meta:    ErrorEnvelopeMeta{Path: r.URL.Path, Method: r.Method},
		})
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte("<!doctype html><html><body>" + html.EscapeString(message) + "</body></html>"))
}

// WriteJSON encodes payload with status. A nil payload writes only the status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// TraceID returns the trace id carried by the request's traceparent header.
func TraceID(r *http.Request) string { return traceIDFromRequest(r) }

// wantsJSON reports whether any Accept entry is plain JSON or one of the
// vnd.pgrst media types.
func wantsJSON(r *http.Request) bool {
	for _, entry := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(entry))
		if err != nil {
			continue
		}
		if mt == "application/json" || strings.HasPrefix(mt, "application/vnd.pgrst.") {
			return true
		}
	}
	return false
}

// traceIDFromRequest extracts the trace id from a W3C traceparent header
// (version-traceid-parentid-flags).
func traceIDFromRequest(r *http.Request) string {
	parts := strings.Split(strings.TrimSpace(r.Header.Get("traceparent")), "-")
	if len(parts) != 4 || len(parts[1]) != 32 {
		return ""
	}
	id := strings.ToLower(parts[1])
	if _, err := hex.DecodeString(id); err != nil || id == zeroTraceID {
		return ""
	}
	return id
}
