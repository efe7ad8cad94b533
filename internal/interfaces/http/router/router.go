package router

import (
	"github.com/gin-gonic/gin"
)

// RouteRegistrar defines the interface for registering routes
type RouteRegistrar interface {
	RegisterRoutes(rg *gin.RouterGroup)
}

// Router manages HTTP route registration
type Router struct {
	engine     *gin.Engine
	apiVersion string
	groups     []registrarGroup
}

type registrarGroup struct {
	middleware []gin.HandlerFunc
	registrars []RouteRegistrar
}

// RouterOption is a functional option for Router configuration
type RouterOption func(*Router)

// WithAPIVersion sets the API version prefix (e.g., "v1", "v2")
func WithAPIVersion(version string) RouterOption {
	return func(r *Router) {
		r.apiVersion = version
	}
}

// NewRouter creates a new Router instance
func NewRouter(engine *gin.Engine, opts ...RouterOption) *Router {
	r := &Router{
		engine:     engine,
		apiVersion: "v1",
	}

	for _, opt := range opts {
		opt(r)
	}

	RegisterValidations()
	return r
}

// Register adds registrars mounted directly under the API group
func (r *Router) Register(registrars ...RouteRegistrar) *Router {
	r.groups = append(r.groups, registrarGroup{registrars: registrars})
	return r
}

// RegisterGuarded adds registrars mounted behind the given middleware
// chain. Each call produces its own gin group so the middleware applies
// only to the routes registered with it.
func (r *Router) RegisterGuarded(middleware []gin.HandlerFunc, registrars ...RouteRegistrar) *Router {
	r.groups = append(r.groups, registrarGroup{middleware: middleware, registrars: registrars})
	return r
}

// Setup registers all routes with the engine
func (r *Router) Setup() {
	api := r.engine.Group("/api/" + r.apiVersion)

	for _, group := range r.groups {
		rg := api
		if len(group.middleware) > 0 {
			rg = api.Group("", group.middleware...)
		}
		for _, registrar := range group.registrars {
			registrar.RegisterRoutes(rg)
		}
	}
}
