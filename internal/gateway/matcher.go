package gateway

import (
	"fmt"
	"strings"

	"github.com/herihandoko/apimanager-new-sub000/internal/database"
	"github.com/herihandoko/apimanager-new-sub000/internal/fault"
)

// MatchEndpoint resolves an inbound (verb, path) pair to one of the
// provider's registered templates. Templates are matched structurally,
// segment by segment: a literal segment must match exactly, a {name}
// placeholder matches any single non-empty segment. No pattern is ever
// compiled from user-supplied template text.
//
// Matching is attempted in four passes: exact literal, segment match, then
// both again with a single leading slash stripped from the inbound path to
// tolerate client inconsistency. The first hit wins; endpoints are assumed
// ordered by registration (sort_order, id). A miss returns a NotFound fault
// carrying every registered "VERB path" pair for diagnostics.
func MatchEndpoint(endpoints []database.Endpoint, method, path string) (*database.Endpoint, error) {
	candidates := make([]*database.Endpoint, 0, len(endpoints))
	for i := range endpoints {
		if endpoints[i].Active && strings.EqualFold(endpoints[i].Method, method) {
			candidates = append(candidates, &endpoints[i])
		}
	}

	paths := []string{path}
	if stripped := strings.TrimPrefix(path, "/"); stripped != path {
		paths = append(paths, stripped)
	}

	for _, p := range paths {
		// Pass 1: exact literal match.
		for _, ep := range candidates {
			if normalize(ep.Path) == normalize(p) {
				return ep, nil
			}
		}
		// Pass 2: segment match with placeholders.
		for _, ep := range candidates {
			if segmentsMatch(ep.Path, p) {
				return ep, nil
			}
		}
	}

	available := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		if ep.Active {
			available = append(available, fmt.Sprintf("%s %s", strings.ToUpper(ep.Method), ep.Path))
		}
	}
	return nil, &fault.Fault{
		Kind:    fault.NotFound,
		Message: fmt.Sprintf("no endpoint matches %s %s", strings.ToUpper(method), path),
		Detail:  map[string]any{"availableEndpoints": available},
	}
}

// normalize gives templates and inbound paths a common leading-slash form.
func normalize(p string) string {
	return "/" + strings.TrimPrefix(p, "/")
}

// segmentsMatch walks template and path segments in lockstep.
func segmentsMatch(template, path string) bool {
	tsegs := strings.Split(strings.Trim(template, "/"), "/")
	psegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(tsegs) != len(psegs) {
		return false
	}
	for i, t := range tsegs {
		if isPlaceholder(t) {
			if psegs[i] == "" {
				return false
			}
			continue
		}
		if t != psegs[i] {
			return false
		}
	}
	return true
}

func isPlaceholder(segment string) bool {
	return len(segment) > 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

// PathParams extracts placeholder values from a matched path. The template
// is assumed to have matched already.
func PathParams(template, path string) map[string]string {
	tsegs := strings.Split(strings.Trim(template, "/"), "/")
	psegs := strings.Split(strings.Trim(path, "/"), "/")
	params := make(map[string]string)
	if len(tsegs) != len(psegs) {
		return params
	}
	for i, t := range tsegs {
		if isPlaceholder(t) {
			params[strings.Trim(t, "{}")] = psegs[i]
		}
	}
	return params
}

// SubstitutePath replaces {name} placeholders in a template with values,
// returning a Validation fault when a required value is missing.
func SubstitutePath(template string, values map[string]string) (string, error) {
	segs := strings.Split(strings.Trim(template, "/"), "/")
	for i, s := range segs {
		if !isPlaceholder(s) {
			continue
		}
		name := strings.Trim(s, "{}")
		v, ok := values[name]
		if !ok || v == "" {
			return "", fault.New(fault.Validation, "missing required path parameter %q", name)
		}
		segs[i] = v
	}
	return "/" + strings.Join(segs, "/"), nil
}
