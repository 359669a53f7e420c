package docs

import "github.com/swaggo/swag"

const docTemplate = `{
  "swagger": "2.0",
  "info": {
    "title": "CampusFix Assignment Backend",
    "description": "Technician auto-assignment, technician of the week and delayed request alerts",
    "version": "1.0"
  },
  "basePath": "/",
  "securityDefinitions": {
    "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
  },
  "paths": {
    "/healthz": {"get": {"tags": ["health"], "summary": "Store health", "responses": {"200": {"description": "ok"}, "503": {"description": "store unavailable"}}}},
    "/api/technicians": {"get": {"tags": ["technicians"], "summary": "List technicians", "responses": {"200": {"description": "ok"}}}},
    "/api/technicians/available": {"get": {"tags": ["technicians"], "summary": "Technicians available right now, best candidate first", "responses": {"200": {"description": "ok"}}}},
    "/api/technicians/of-the-week": {"get": {"tags": ["technicians"], "summary": "Technician of the week", "responses": {"200": {"description": "ok"}}}},
    "/api/requests/{kind}": {"get": {"tags": ["requests"], "summary": "List requests of one kind", "responses": {"200": {"description": "ok"}}}},
    "/api/requests/{kind}/{id}/auto-assign": {"post": {"tags": ["requests"], "security": [{"AdminKey": []}], "summary": "Auto-assign a pending request", "responses": {"200": {"description": "assigned"}, "409": {"description": "no candidate or invalid state"}}}},
    "/api/requests/{kind}/{id}/assign": {"post": {"tags": ["requests"], "security": [{"AdminKey": []}], "summary": "Assign to a named technician", "responses": {"200": {"description": "assigned"}}}},
    "/api/requests/{kind}/{id}/complete": {"post": {"tags": ["requests"], "security": [{"AdminKey": []}], "summary": "Complete an in-progress request", "responses": {"200": {"description": "completed"}}}},
    "/api/requests/{kind}/{id}/decline": {"post": {"tags": ["requests"], "security": [{"AdminKey": []}], "summary": "Technician declines a request", "responses": {"200": {"description": "declined"}}}},
    "/api/process": {"post": {"tags": ["process"], "security": [{"AdminKey": []}], "summary": "Auto-assign every pending request", "responses": {"200": {"description": "run summary"}}}},
    "/api/delayed/scan": {"post": {"tags": ["delayed"], "security": [{"AdminKey": []}], "summary": "Scan for delayed and rejected requests", "responses": {"200": {"description": "scan report"}}}},
    "/api/delayed/seen": {"delete": {"tags": ["delayed"], "security": [{"AdminKey": []}], "summary": "Reset reported requests", "responses": {"204": {"description": "cleared"}}}}
  }
}`

func init() {
	swag.Register(swag.Name, &s{})
}

type s struct{}

func (s *s) ReadDoc() string {
	return docTemplate
}
