// Package openapi publishes an OpenAPI 3 description of the routes mounted
// on an echo server.
package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator describes every route under prefix. The document is built on
// each request so it always matches the mounted routes.
type Generator struct {
	e       *echo.Echo
	prefix  string
	title   string
	version string
}

func NewGenerator(e *echo.Echo, prefix, title, version string) *Generator {
	return &Generator{e: e, prefix: prefix, title: title, version: version}
}

// GenerateSpec produces the OpenAPI document as a map.
func (g *Generator) GenerateSpec() map[string]interface{} {
	routes := g.e.Routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path == routes[j].Path {
			return routes[i].Method < routes[j].Method
		}
		return routes[i].Path < routes[j].Path
	})

	paths := make(map[string]map[string]interface{})
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, g.prefix) || !documented(r.Method) {
			continue
		}
		p := openAPIPath(r.Path)
		if paths[p] == nil {
			paths[p] = make(map[string]interface{})
		}
		paths[p][strings.ToLower(r.Method)] = g.operation(r)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":   g.title,
			"version": g.version,
		},
		"servers":  []map[string]string{{"url": "/"}},
		"paths":    paths,
		"security": []map[string][]string{{"bearerAuth": {}}},
		"components": map[string]interface{}{
			"securitySchemes": map[string]interface{}{
				"bearerAuth": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": map[string]interface{}{
				"Result": resultSchema(),
				"Error":  errorSchema(),
			},
		},
	}
}

func documented(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// openAPIPath rewrites echo's ":name" segments as "{name}".
func openAPIPath(path string) string {
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/")
}

func pathParams(path string) []map[string]interface{} {
	var params []map[string]interface{}
	for _, s := range strings.Split(path, "/") {
		if strings.HasPrefix(s, ":") {
			params = append(params, map[string]interface{}{
				"name":     s[1:],
				"in":       "path",
				"required": true,
				"schema":   map[string]string{"type": "integer", "format": "int64"},
			})
		}
	}
	return params
}

// tag groups operations by the first segment after the prefix.
func (g *Generator) tag(path string) string {
	rest := strings.TrimPrefix(strings.TrimPrefix(path, g.prefix), "/")
	first, _, _ := strings.Cut(rest, "/")
	if first == "" {
		return "default"
	}
	return first
}

func (g *Generator) operation(r *echo.Route) map[string]interface{} {
	op := map[string]interface{}{
		"operationId": operationID(r.Name),
		"tags":        []string{g.tag(r.Path)},
		"responses":   responses(r.Method),
	}
	if params := pathParams(r.Path); len(params) > 0 {
		op["parameters"] = params
	}
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		op["requestBody"] = map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{
					"schema": map[string]string{"type": "object"},
				},
			},
		}
	}
	return op
}

// operationID trims echo's handler name ("pkg.(*Handler).Create-fm") down
// to the method name.
func operationID(handlerName string) string {
	name := strings.TrimSuffix(handlerName, "-fm")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func ref(name string) map[string]interface{} {
	return map[string]interface{}{
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/" + name},
			},
		},
	}
}

func responses(method string) map[string]interface{} {
	withDesc := func(desc, schema string) map[string]interface{} {
		r := ref(schema)
		r["description"] = desc
		return r
	}
	out := map[string]interface{}{
		"400": withDesc("Invalid request", "Error"),
		"401": withDesc("Missing or invalid token", "Error"),
		"403": withDesc("Role not permitted", "Error"),
		"404": withDesc("Not found", "Result"),
	}
	switch method {
	case http.MethodGet:
		out["200"] = map[string]interface{}{"description": "Success"}
	case http.MethodPost:
		out["200"] = withDesc("Success", "Result")
		out["201"] = withDesc("Created", "Result")
		out["409"] = withDesc("Stale version or closed", "Result")
	default:
		out["200"] = withDesc("Success", "Result")
		out["409"] = withDesc("Stale version or closed", "Result")
	}
	return out
}

func resultSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"success": map[string]string{"type": "boolean"},
			"key":     map[string]string{"type": "integer", "format": "int64"},
			"message": map[string]string{"type": "string"},
		},
		"required": []string{"success", "message"},
	}
}

func errorSchema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"message": map[string]string{"type": "string"},
		},
	}
}

// RegisterRoutes serves the document at /openapi.json on g.
func (g *Generator) RegisterRoutes(group *echo.Group) {
	group.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateSpec())
	})
}
