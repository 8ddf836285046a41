// Package wsgistats reports brimd's stats buckets as a JSON response,
// with optional JSONP wrapping via a jsonp/callback query parameter.
//
// Grounded on original_source/brim/wsgi_stats.py.
package wsgistats

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/brimdotnet/brimd/internal/handler"
	"github.com/brimdotnet/brimd/internal/httpx"
	"github.com/brimdotnet/brimd/internal/pipeline"
	"github.com/brimdotnet/brimd/internal/stats"
)

// Symbol is the registry call= value for this handler.
const Symbol = "wsgistats.Reporter"

func init() {
	handler.Default.RegisterWSGI(Symbol, New)
}

// Reporter matches the configured path and emits the stats document
// of spec §6; any other path is passed on.
type Reporter struct {
	path string
	next pipeline.App
}

// New builds a Reporter, the registered handler.WSGIFactory.
func New(name string, cfg handler.Config, next pipeline.App) (pipeline.App, error) {
	return &Reporter{path: cfg.Get("path", "/stats"), next: next}, nil
}

func (s *Reporter) ServeBrim(env *pipeline.Env, w http.ResponseWriter) {
	if env.Path != s.path {
		s.next.ServeBrim(env, w)
		return
	}
	if env.Method != http.MethodGet && env.Method != http.MethodHead {
		httpx.NewError(http.StatusNotImplemented, "", nil).WriteTo(w, env.Method)
		return
	}

	body := map[string]any{}
	if env.StatsSource != nil {
		for _, sub := range env.StatsSource.AllStats() {
			body[sub.Name] = subserverDoc(sub.Set)
		}
		body["start_time"] = env.StatsSource.StartTime().Unix()
	}
	payload, err := json.Marshal(body)
	if err != nil {
		httpx.NewError(http.StatusInternalServerError, "", nil).WriteTo(w, env.Method)
		return
	}

	qp := httpx.NewQueryParser(env.QueryString)
	callback := qp.Get("jsonp", qp.Get("callback", ""))
	if callback != "" {
		out := []byte(callback + "(")
		out = append(out, payload...)
		out = append(out, ')')
		writeJSON(w, env.Method, out, "application/javascript")
		return
	}
	payload = append(payload, '\n')
	writeJSON(w, env.Method, payload, "application/json")
}

func writeJSON(w http.ResponseWriter, method string, body []byte, contentType string) {
	w.Header().Set("Content-Type", contentType)
	httpx.NewError(http.StatusOK, string(body), w.Header()).WriteTo(w, method)
}

func subserverDoc(set *stats.Set) map[string]any {
	doc := map[string]any{}
	for _, name := range set.Names() {
		if v := set.Aggregate(name); v != 0 {
			doc[name] = v
		}
		for b := 0; b < set.WorkerCount(); b++ {
			if v := set.Get(b, name); v != 0 {
				bucket, ok := doc[bucketKey(b)].(map[string]uint64)
				if !ok {
					bucket = map[string]uint64{}
					doc[bucketKey(b)] = bucket
				}
				bucket[name] = v
			}
		}
	}
	return doc
}

func bucketKey(b int) string {
	return "worker" + strconv.Itoa(b)
}
