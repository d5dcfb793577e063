package routing

import (
	"errors"
	"fmt"
	"strings"
)

type RouteClass string

const (
	RouteClassUI          RouteClass = "ui"
	RouteClassInternalAPI RouteClass = "internal_api"
	RouteClassPublicAPI   RouteClass = "public_api"
	RouteClassAuthn       RouteClass = "authn"
	RouteClassOps         RouteClass = "ops"
	RouteClassRPC         RouteClass = "rpc"
	RouteClassStatic      RouteClass = "static"
)

func (rc RouteClass) known() bool {
	switch rc {
	case RouteClassUI, RouteClassInternalAPI, RouteClassPublicAPI, RouteClassAuthn, RouteClassOps, RouteClassRPC, RouteClassStatic:
		return true
	}
	return false
}

// Unlisted paths fall back to these prefixes, first match wins. The rpc
// prefix must stay ahead of the generic rest one.
var prefixClasses = []struct {
	prefix string
	rc     RouteClass
}{
	{"/rest/v1/rpc", RouteClassRPC},
	{"/rest/v1", RouteClassPublicAPI},
	{"/auth/v1", RouteClassAuthn},
}

// Classifier maps request paths to route classes using one allowlist
// entrypoint.
type Classifier struct {
	entrypoint string
	exact      map[string]RouteClass
	patterns   []classifiedPattern
}

type classifiedPattern struct {
	pattern routePattern
	rc      RouteClass
}

func NewClassifier(a Allowlist, entrypoint string) (*Classifier, error) {
	ep, ok := a.Entrypoints[entrypoint]
	if !ok {
		return nil, fmt.Errorf("allowlist: missing entrypoint %q", entrypoint)
	}
	if len(ep.Routes) == 0 {
		return nil, errors.New("allowlist: entrypoint routes empty")
	}

	c := &Classifier{entrypoint: entrypoint, exact: make(map[string]RouteClass, len(ep.Routes))}
	byPath := make(map[string]RouteClass, len(ep.Routes))
	for i, r := range ep.Routes {
		if r.Path == "" || r.RouteClass == "" {
			return nil, fmt.Errorf("allowlist: route %d needs path and route_class", i)
		}
		rc := RouteClass(r.RouteClass)
		if !rc.known() {
			return nil, fmt.Errorf("allowlist: unknown route_class %q for %s", r.RouteClass, r.Path)
		}
		if prev, dup := byPath[r.Path]; dup {
			if prev != rc {
				return nil, fmt.Errorf("allowlist: %s listed as both %s and %s", r.Path, prev, rc)
			}
			continue
		}
		byPath[r.Path] = rc
		if p, ok := compilePattern(r.Path); ok {
			c.patterns = append(c.patterns, classifiedPattern{pattern: p, rc: rc})
			continue
		}
		c.exact[r.Path] = rc
	}
	return c, nil
}

func (c *Classifier) Classify(path string) RouteClass {
	if rc, ok := c.exact[path]; ok {
		return rc
	}
	for _, p := range c.patterns {
		if p.pattern.matches(path) {
			return p.rc
		}
	}
	for _, pc := range prefixClasses {
		if underPrefix(path, pc.prefix) {
			return pc.rc
		}
	}
	switch {
	case isModuleAPI(path):
		return RouteClassInternalAPI
	case path == "/health" || path == "/healthz":
		return RouteClassOps
	case underPrefix(path, "/assets") || underPrefix(path, "/static"):
		return RouteClassStatic
	}
	return RouteClassUI
}

// underPrefix matches whole path segments only: /rest/v1x is not under /rest/v1.
func underPrefix(path, prefix string) bool {
	rest, ok := strings.CutPrefix(path, prefix)
	return ok && (rest == "" || rest[0] == '/')
}

// isModuleAPI reports paths shaped /{module}/api[/...].
func isModuleAPI(path string) bool {
	rest, ok := strings.CutPrefix(path, "/")
	if !ok {
		return false
	}
	module, after, ok := strings.Cut(rest, "/")
	return ok && module != "" && underPrefix("/"+after, "/api")
}
