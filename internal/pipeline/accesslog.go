package pipeline

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// percentEncodeField percent-encodes every byte below '!' (0x21), '%'
// (0x25), and above '~' (0x7E), matching spec §4.5's access-log
// encoding rule. An empty field renders as "-".
func percentEncodeField(s string) string {
	if s == "" {
		return "-"
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x21 || c == '%' || c > 0x7E {
			fmt.Fprintf(&b, "%%%02X", c)
		} else {
			b.WriteByte(c)
		}
	}
	return b.String()
}

// pathQueryField rebuilds field 7: percent-decode PATH_INFO once, then
// percent-decode QUERY_STRING (with '+' as space) and append after
// '?', then re-encode the whole thing.
func pathQueryField(path, query string) string {
	decodedPath, err := url.PathUnescape(path)
	if err != nil {
		decodedPath = path
	}
	field := decodedPath
	if query != "" {
		decodedQuery, err := url.QueryUnescape(query)
		if err != nil {
			decodedQuery = query
		}
		field += "?" + decodedQuery
	}
	return percentEncodeField(field)
}

func effectiveClientIP(env *Env) string {
	if v := env.Header.Get("X-Cluster-Client-Ip"); v != "" {
		return v
	}
	if v := env.Header.Get("X-Forwarded-For"); v != "" {
		first := strings.SplitN(v, ",", 2)[0]
		return strings.TrimSpace(first)
	}
	if env.RemoteAddr != "" {
		return env.RemoteAddr
	}
	return "-"
}

func headerBlock(h map[string][]string) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		name := strings.ReplaceAll(strings.ToUpper(k), "-", "_")
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(h[k], ","))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatAccessLogLine builds the space-separated, percent-encoded
// access-log record of spec §4.5, fields 1-17.
func FormatAccessLogLine(env *Env, status int, elapsed time.Duration, logHeaders bool) string {
	fields := make([]string, 0, 20)
	fields = append(fields,
		percentEncodeField(effectiveClientIP(env)),
		percentEncodeField(env.RemoteAddr),
		percentEncodeField(env.Header.Get("X-Auth-Token")),
		percentEncodeField(env.Header.Get("Remote-User")),
		percentEncodeField(env.Start.UTC().Format("20060102T150405Z")),
		percentEncodeField(env.Method),
		pathQueryField(env.Path, env.QueryString),
		percentEncodeField(env.Protocol),
		fmt.Sprintf("%d", status),
		fmt.Sprintf("%d", env.BytesOut),
		fmt.Sprintf("%d", env.BytesIn),
		percentEncodeField(env.Header.Get("Referer")),
		percentEncodeField(env.Header.Get("User-Agent")),
		percentEncodeField(env.Txn),
		fmt.Sprintf("%.5f", elapsed.Seconds()),
	)
	fields = append(fields, env.AdditionalRequestLogInfo...)
	if logHeaders {
		fields = append(fields, "headers:", percentEncodeField(headerBlock(env.Header)))
	}
	return strings.Join(fields, " ")
}
