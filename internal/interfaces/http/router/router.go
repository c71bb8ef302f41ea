// Package router assembles the versioned API from per-area route groups.
package router

import (
	"net/http"
	"path"

	"github.com/gin-gonic/gin"
)

// RouteInfo describes one mounted route
type RouteInfo struct {
	Group  string
	Method string
	Path   string
}

// Router mounts route groups under /api/<version>
type Router struct {
	engine     *gin.Engine
	apiVersion string
	middleware []gin.HandlerFunc
	groups     []*DomainGroup
}

// RouterOption configures a Router
type RouterOption func(*Router)

// WithAPIVersion sets the version segment of the prefix, "v1" by default
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a Router on engine
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{engine: engine, apiVersion: "v1"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Use adds middleware that runs before every group's own middleware
func (r *Router) Use(middleware ...gin.HandlerFunc) *Router {
	r.middleware = append(r.middleware, middleware...)
	return r
}

// Mount queues groups for Setup
func (r *Router) Mount(groups ...*DomainGroup) *Router {
	r.groups = append(r.groups, groups...)
	return r
}

// Setup registers every mounted group on the engine and returns the routes
// in registration order
func (r *Router) Setup() []RouteInfo {
	base := "/api/" + r.apiVersion
	api := r.engine.Group(base)
	if len(r.middleware) > 0 {
		api.Use(r.middleware...)
	}
	var routes []RouteInfo
	for _, g := range r.groups {
		routes = g.register(api, base, routes)
	}
	return routes
}

// DomainGroup collects the routes and middleware of one API area, such as
// orders or backfills
type DomainGroup struct {
	name       string
	prefix     string
	middleware []gin.HandlerFunc
	routes     []route
	subgroups  []*DomainGroup
}

type route struct {
	method   string
	path     string
	handlers []gin.HandlerFunc
}

// NewDomainGroup creates a group mounted at prefix
func NewDomainGroup(name, prefix string) *DomainGroup {
	return &DomainGroup{name: name, prefix: prefix}
}

// Use adds middleware to this group and its subgroups
func (dg *DomainGroup) Use(middleware ...gin.HandlerFunc) *DomainGroup {
	dg.middleware = append(dg.middleware, middleware...)
	return dg
}

// GET registers a GET route
func (dg *DomainGroup) GET(p string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodGet, p, handlers)
}

// POST registers a POST route
func (dg *DomainGroup) POST(p string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPost, p, handlers)
}

// PUT registers a PUT route
func (dg *DomainGroup) PUT(p string, handlers ...gin.HandlerFunc) *DomainGroup {
	return dg.handle(http.MethodPut, p, handlers)
}

func (dg *DomainGroup) handle(method, p string, handlers []gin.HandlerFunc) *DomainGroup {
	dg.routes = append(dg.routes, route{method: method, path: p, handlers: handlers})
	return dg
}

// Group creates a subgroup that inherits this group's middleware
func (dg *DomainGroup) Group(name, prefix string) *DomainGroup {
	sub := NewDomainGroup(dg.name+"/"+name, prefix)
	dg.subgroups = append(dg.subgroups, sub)
	return sub
}

func (dg *DomainGroup) register(parent *gin.RouterGroup, base string, routes []RouteInfo) []RouteInfo {
	group := parent.Group(dg.prefix)
	if len(dg.middleware) > 0 {
		group.Use(dg.middleware...)
	}
	base = path.Join(base, dg.prefix)
	for _, rt := range dg.routes {
		group.Handle(rt.method, rt.path, rt.handlers...)
		full := base
		if rt.path != "" {
			full = path.Join(base, rt.path)
		}
		routes = append(routes, RouteInfo{Group: dg.name, Method: rt.method, Path: full})
	}
	for _, sub := range dg.subgroups {
		routes = sub.register(group, base, routes)
	}
	return routes
}
