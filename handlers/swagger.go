package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg *gin.Engine) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>artisthub-admin Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "artisthub-admin", "version": "v1.0.0" },
  "components": {
    "securitySchemes": {
      "session": { "type": "apiKey", "in": "cookie", "name": "admin_session" },
      "bearer": { "type": "http", "scheme": "bearer", "bearerFormat": "JWT" }
    }
  },
  "security": [ { "session": [] }, { "bearer": [] } ],
  "paths": {
    "/api/auth/login": {
      "post": {
        "summary": "Log in through Keycloak and open a cookie session",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"mode":{"type":"string","enum":["password","auth_code"]},"username":{"type":"string"},"password":{"type":"string"},"code":{"type":"string"},"redirect_uri":{"type":"string"}}}}}},
        "responses": { "200": { "description": "session cookie set, access token returned" }, "401": { "description": "authentication failed" } }
      }
    },
    "/api/auth/refresh": { "post": { "summary": "New access token for the session", "responses": { "200": { "description": "new access token" }, "401": { "description": "invalid session" } } } },
    "/api/auth/logout": { "post": { "summary": "End the session", "responses": { "200": { "description": "logged out" } } } },
    "/api/auth/me": { "get": { "summary": "Current account", "responses": { "200": { "description": "user" }, "401": { "description": "not authenticated" } } } },
    "/api/admin/users": {
      "get": {
        "summary": "Directory query",
        "parameters": [
          {"name":"page","in":"query","schema":{"type":"integer","minimum":1}},
          {"name":"limit","in":"query","schema":{"type":"integer","default":15,"maximum":100}},
          {"name":"search","in":"query","schema":{"type":"string"}},
          {"name":"role","in":"query","schema":{"type":"string","enum":["all","user","moderator","support","admin"]}},
          {"name":"subscription","in":"query","schema":{"type":"string","enum":["all","none","free","creator","professional","enterprise"]}}
        ],
        "responses": { "200": { "description": "{success, users[], pagination:{page,limit,total,totalPages}}" }, "400": { "description": "unknown filter value" } }
      },
      "post": {
        "summary": "Create a user without credentials",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","required":["email"],"properties":{"email":{"type":"string"},"firstName":{"type":"string"},"lastName":{"type":"string"},"role":{"type":"string"}}}}}},
        "responses": { "201": { "description": "{success, message, user}" }, "400": { "description": "validation failed" }, "409": { "description": "email taken" } }
      }
    },
    "/api/admin/users/{id}": {
      "get": { "summary": "One user", "responses": { "200": { "description": "{success, user}" }, "404": { "description": "not found" } } },
      "delete": { "summary": "Hard delete", "responses": { "200": { "description": "{success, message, deleted:{userId,roleCleared,subscriptionCleared,sessionsRevoked}}" }, "404": { "description": "not found" } } }
    },
    "/api/admin/users/{id}/role": {
      "post": {
        "summary": "Overwrite role and permissions",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"role":{"type":"string"},"permissions":{"type":"array","items":{"type":"string"}}}}}}},
        "responses": { "200": { "description": "{success, message}" }, "400": { "description": "unknown role or permission" } }
      },
      "delete": { "summary": "Reset to a plain user", "responses": { "200": { "description": "{success, message}" } } }
    },
    "/api/admin/users/{id}/subscription": {
      "post": {
        "summary": "Manual grant without payment",
        "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"plan":{"type":"string"},"status":{"type":"string","enum":["active","trialing"]},"durationDays":{"type":"integer","minimum":1,"maximum":3650},"reason":{"type":"string"}}}}}},
        "responses": { "200": { "description": "{success, message, subscriptionEnd}" } }
      },
      "delete": { "summary": "Cancel the subscription", "responses": { "200": { "description": "{success, message}" } } }
    },
    "/api/admin/roles": { "get": { "summary": "Role statistics", "responses": { "200": { "description": "{success, stats:{byRole[], usersWithoutRole, totalUsers}, availableRoles[], availablePermissions[]}" } } } },
    "/api/admin/plans": { "get": { "summary": "Plan tiers", "responses": { "200": { "description": "{success, plans:[{plan, displayName}]}" } } } },
    "/api/admin/audit": { "get": { "summary": "Recent admin actions", "responses": { "200": { "description": "{success, entries[]}" } } } },
    "/api/admin/audit/archive": { "post": { "summary": "Export the audit log to object storage", "responses": { "200": { "description": "{success, archive:{key,url,entries,at}}" }, "503": { "description": "storage not configured" } } } },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
