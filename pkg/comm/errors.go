package comm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"
)

// ConflictErrorCode is the service error code reported for a stale nonce
const ConflictErrorCode = "15001"

// HTTPError is returned for every response outside the 2xx range
type HTTPError struct {
	Status  int
	Code    string
	Message string
	Extra   map[string]interface{}
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d (error code %s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// IsConflict reports whether the service rejected the request because
// the submitted sequence number was stale
func (e *HTTPError) IsConflict() bool {
	return e.Code == ConflictErrorCode || e.Status == http.StatusConflict
}

// newHTTPError maps a failed response into an HTTPError. JSON bodies may
// carry {"error", "error_code", "extra_detail"}, {"detail"} or {"errors": [...]}.
// Numbers in extra_detail are kept as json.Number.
func newHTTPError(status int, contentType string, body []byte) *HTTPError {
	e := &HTTPError{Status: status}

	mediaType := "text/plain"
	if contentType != "" {
		if mt, _, err := mime.ParseMediaType(contentType); err == nil {
			mediaType = mt
		}
	}

	switch {
	case mediaType == "text/html":
		e.Message = http.StatusText(status)
	case isJSON(mediaType):
		e.Message = string(body)
		parseJSONError(e, body)
	default:
		e.Message = string(body)
	}

	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func parseJSONError(e *HTTPError, body []byte) {
	var m map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return
	}

	if msg, ok := m["error"]; ok && msg != nil {
		e.Message = fmt.Sprint(msg)
		if code, ok := m["error_code"]; ok && code != nil {
			e.Code = formatCode(code)
		}
		if extra, ok := m["extra_detail"].(map[string]interface{}); ok {
			e.Extra = extra
		}
		return
	}

	if detail, ok := m["detail"]; ok && detail != nil {
		e.Message = fmt.Sprint(detail)
		return
	}

	if list, ok := m["errors"].([]interface{}); ok {
		var sb strings.Builder
		for _, item := range list {
			switch v := item.(type) {
			case string:
				sb.WriteString(v)
			case map[string]interface{}:
				if title, ok := v["title"].(string); ok {
					sb.WriteString(title)
					sb.WriteString(": ")
				}
				if detail, ok := v["detail"].(string); ok {
					sb.WriteString(detail)
				}
			}
			sb.WriteString("\n")
		}
		e.Message = sb.String()
	}
}

func formatCode(code interface{}) string {
	if n, ok := code.(json.Number); ok {
		return n.String()
	}
	return strings.TrimSpace(fmt.Sprint(code))
}
