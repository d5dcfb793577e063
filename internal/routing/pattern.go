package routing

import "strings"

// routePattern is a compiled path template such as
// /loan/api/applications/{id}/notes.
type routePattern struct {
	template string
	parts    []patternPart
}

// patternPart is either a literal segment or a named parameter.
type patternPart struct {
	literal string
	param   string
}

// compilePattern reports false for templates without parameters and for
// malformed ones, so callers fall back to exact matching.
func compilePattern(template string) (routePattern, bool) {
	if !strings.HasPrefix(template, "/") || !strings.Contains(template, "{") {
		return routePattern{}, false
	}
	segs := pathSegments(template)
	p := routePattern{template: template, parts: make([]patternPart, 0, len(segs))}
	seen := make(map[string]bool, 2)
	for _, seg := range segs {
		switch {
		case seg == "":
			return routePattern{}, false
		case strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}"):
			name := seg[1 : len(seg)-1]
			if !validParamName(name) || seen[name] {
				return routePattern{}, false
			}
			seen[name] = true
			p.parts = append(p.parts, patternPart{param: name})
		case strings.ContainsAny(seg, "{}"):
			return routePattern{}, false
		default:
			p.parts = append(p.parts, patternPart{literal: seg})
		}
	}
	return p, true
}

// MatchTemplate matches path against template with the rules the router
// uses. A template without parameters matches only itself.
func MatchTemplate(template string, path string) (map[string]string, bool) {
	p, ok := compilePattern(template)
	if !ok {
		return nil, path == template
	}
	return p.match(path)
}

func (p routePattern) matches(path string) bool {
	_, ok := p.match(path)
	return ok
}

// match binds each parameter to its segment of path. Parameters never match
// an empty segment.
func (p routePattern) match(path string) (map[string]string, bool) {
	if p.template == "" {
		return nil, false
	}
	segs := pathSegments(path)
	if len(segs) != len(p.parts) {
		return nil, false
	}
	var params map[string]string
	for i, part := range p.parts {
		seg := segs[i]
		if part.param == "" {
			if seg != part.literal {
				return nil, false
			}
			continue
		}
		if seg == "" {
			return nil, false
		}
		if params == nil {
			params = make(map[string]string, 2)
		}
		params[part.param] = seg
	}
	return params, true
}

func pathSegments(path string) []string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func validParamName(name string) bool {
	if name == "" {
		return false
	}
	for _, ch := range name {
		if ch != '_' && (ch < 'a' || ch > 'z') && (ch < 'A' || ch > 'Z') && (ch < '0' || ch > '9') {
			return false
		}
	}
	return true
}
