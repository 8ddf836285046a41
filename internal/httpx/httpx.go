// Package httpx provides small WSGI-response-shaped helpers used by
// brimd's HTTP pipeline and sample handlers: a status-code reason
// table, an HTTPError usable as both a Go error and a response writer,
// and a query-string parser.
//
// Grounded on original_source/brim/http.py.
package httpx

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// CodeToReason translates an HTTP status code to its English reason
// phrase, falling back to "Status" for unknown codes (matches
// CODE2NAME.get(code, 'Status') in http.py).
func CodeToReason(code int) string {
	if reason := http.StatusText(code); reason != "" {
		return reason
	}
	return "Status"
}

// Error is a WSGI-style HTTP error/response: it carries a status code,
// headers, and a body, and can be written directly to a
// http.ResponseWriter. Matches http.py's HTTPException.
type Error struct {
	Code    int
	Body    string
	Headers http.Header
}

// NewError builds an Error, defaulting content-type to text/plain and
// content-length to len(body) when neither content-length nor
// transfer-encoding is already set, matching HTTPException.__init__.
func NewError(code int, body string, headers http.Header) *Error {
	if headers == nil {
		headers = http.Header{}
	}
	e := &Error{Code: code, Body: body, Headers: headers}
	if e.Headers.Get("Content-Length") == "" && e.Headers.Get("Transfer-Encoding") == "" {
		e.Headers.Set("Content-Length", strconv.Itoa(len(body)))
	}
	if e.Headers.Get("Content-Type") == "" {
		e.Headers.Set("Content-Type", "text/plain")
	}
	return e
}

func (e *Error) Error() string {
	return fmt.Sprintf("%d %s %s", e.Code, CodeToReason(e.Code), orDash(e.Body))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// WriteTo writes the error as an HTTP response, rewriting a bare 200
// with a zero-length body to 204 (matching HTTPException.__call__'s
// "if self.code == 200 and content-length == 0: code = 204"), and
// omitting the body entirely for HEAD requests.
func (e *Error) WriteTo(w http.ResponseWriter, method string) {
	code := e.Code
	if code == http.StatusOK {
		if n, err := strconv.Atoi(e.Headers.Get("Content-Length")); err == nil && n == 0 {
			code = http.StatusNoContent
		}
	}
	dst := w.Header()
	for k, v := range e.Headers {
		dst[http.CanonicalHeaderKey(k)] = v
	}
	w.WriteHeader(code)
	if strings.EqualFold(method, http.MethodHead) {
		return
	}
	if e.Body != "" {
		_, _ = w.Write([]byte(e.Body))
	}
}

// BadRequest builds a 400 Error, the response shape get_header_int and
// QueryParser raise on caller misuse.
func BadRequest(format string, args ...any) *Error {
	return NewError(http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// GetHeaderInt returns the int value of an HTTP header (env key form
// "HTTP_X_FOO"-style headers are looked up via r.Header.Get's canonical
// form here instead). If def is nil the header is required and a
// *Error is returned on absence or parse failure.
func GetHeaderInt(h http.Header, name string, def *int) (int, error) {
	v := h.Get(name)
	if v == "" {
		if def != nil {
			return *def, nil
		}
		return 0, BadRequest("Requires %s header.\n", titleCase(name))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, BadRequest("Invalid %s header %q.\n", titleCase(name), v)
	}
	return n, nil
}

// QueryParser parses a query string and offers typed, last-value-wins
// accessors, matching http.py's QueryParser.
type QueryParser struct {
	values url.Values
}

// NewQueryParser parses queryString (no leading '?') the way
// QueryParser.__init__ does, keeping blank values.
func NewQueryParser(queryString string) QueryParser {
	v, _ := url.ParseQuery(queryString)
	return QueryParser{values: v}
}

// Get returns the last value of name, or def if absent. Earlier values
// of a repeated name are not returned; GetAll returns the full slice.
func (q QueryParser) Get(name, def string) string {
	vs, ok := q.values[name]
	if !ok || len(vs) == 0 {
		return def
	}
	return vs[len(vs)-1]
}

// GetAll returns every value of name in query order.
func (q QueryParser) GetAll(name string) []string {
	return q.values[name]
}

// titleCase capitalizes the first letter of each '-'-separated word, the
// plain-ASCII header-name casing get_header_int's error messages use.
func titleCase(name string) string {
	parts := strings.Split(strings.ToLower(name), "-")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, "-")
}

var trueValues = map[string]bool{"1": true, "on": true, "t": true, "true": true, "y": true, "yes": true}
var falseValues = map[string]bool{"0": true, "f": true, "false": true, "n": true, "no": true, "off": true}

// GetBoolean mirrors QueryParser.get_boolean: a present-but-empty
// parameter (?flag with no value) inverts def; otherwise the value is
// matched against brim's TRUE_VALUES/FALSE_VALUES, raising BadRequest
// if it matches neither.
func (q QueryParser) GetBoolean(name string, def bool) (bool, error) {
	vs, ok := q.values[name]
	if !ok || len(vs) == 0 {
		return def, nil
	}
	v := vs[len(vs)-1]
	if v == "" {
		return !def, nil
	}
	lower := strings.ToLower(v)
	if falseValues[lower] {
		return false, nil
	}
	if trueValues[lower] {
		return true, nil
	}
	return false, BadRequest("Query parameter %q value %q not boolean.\n", name, v)
}

// GetInt mirrors QueryParser.get_int.
func (q QueryParser) GetInt(name string, def int) (int, error) {
	v := q.Get(name, "")
	if v == "" {
		if _, present := q.values[name]; !present {
			return def, nil
		}
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, BadRequest("Query parameter %q value %q not int.\n", name, v)
	}
	return n, nil
}

// GetFloat mirrors QueryParser.get_float.
func (q QueryParser) GetFloat(name string, def float64) (float64, error) {
	v := q.Get(name, "")
	if v == "" {
		if _, present := q.values[name]; !present {
			return def, nil
		}
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, BadRequest("Query parameter %q value %q not float.\n", name, v)
	}
	return n, nil
}
