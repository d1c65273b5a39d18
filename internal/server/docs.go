package server

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Scanflow Maintainers",
            "url": "https://github.com/raysh454/scanflow"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/views": {
            "post": {
                "summary": "Open a scan view",
                "produces": ["application/json"],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/server.CreateViewResponse"}}}
            }
        },
        "/views/{viewID}": {
            "get": {
                "summary": "Snapshot of a view",
                "parameters": [{"type": "string", "name": "viewID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}}
            },
            "delete": {
                "summary": "Close a view and stop its polling",
                "parameters": [{"type": "string", "name": "viewID", "in": "path", "required": true}],
                "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}}
            }
        },
        "/views/{viewID}/submit": {
            "post": {
                "summary": "Submit a scan",
                "consumes": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "viewID", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.SubmitRequest"}}
                ],
                "responses": {"202": {"description": "Accepted", "schema": {"$ref": "#/definitions/server.SubmitResponse"}}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}}
            }
        },
        "/views/{viewID}/load": {
            "post": {
                "summary": "Follow an existing task",
                "consumes": ["application/json"],
                "parameters": [
                    {"type": "string", "name": "viewID", "in": "path", "required": true},
                    {"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.LoadRequest"}}
                ],
                "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}}
            }
        },
        "/ws/views/{viewID}": {
            "get": {
                "summary": "Stream view events over a websocket",
                "parameters": [{"type": "string", "name": "viewID", "in": "path", "required": true}],
                "responses": {"101": {"description": "Switching Protocols"}}
            }
        },
        "/features/access": {
            "get": {
                "summary": "Check access to several features",
                "parameters": [{"type": "string", "name": "codes", "in": "query", "required": true}],
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}}
            }
        },
        "/session/login": {
            "post": {
                "summary": "Install a bearer token",
                "parameters": [{"name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/server.LoginRequest"}}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/server.SessionResponse"}}}
            }
        },
        "/session/logout": {
            "post": {"summary": "Drop the bearer token", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/server.SessionResponse"}}}}
        },
        "/session/purchase": {
            "post": {"summary": "Invalidate cached credits after a purchase", "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/server.SessionResponse"}}}}
        },
        "/history": {
            "get": {
                "summary": "Recent tasks",
                "parameters": [{"type": "integer", "name": "limit", "in": "query"}],
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/history/{taskID}": {
            "get": {
                "summary": "One task with its results",
                "parameters": [{"type": "string", "name": "taskID", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}}
            }
        }
    },
    "definitions": {
        "server.CreateViewResponse": {"type": "object", "properties": {"id": {"type": "string"}}},
        "server.SubmitRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://example.com"},
                "options": {"type": "array", "items": {"type": "string"}},
                "locale": {"type": "string", "example": "en"},
                "ai_mode": {"type": "string", "example": "standard"}
            }
        },
        "server.SubmitResponse": {"type": "object", "properties": {"outcome": {"type": "string", "example": "accepted"}}},
        "server.LoadRequest": {"type": "object", "properties": {"task_id": {"type": "string", "example": "abc"}}},
        "server.LoginRequest": {"type": "object", "properties": {"token": {"type": "string"}}},
        "server.SessionResponse": {"type": "object", "properties": {"authenticated": {"type": "boolean"}}},
        "server.ErrorResponse": {"type": "object", "properties": {"error": {"type": "string", "example": "not found"}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Scanflow API",
	Description:      "Local API for submitting website audits and following them to completion.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
