// Package docs registers the OpenAPI document served by the swagger build.
//
// The document is maintained by hand alongside the handler annotations in
// internal/httpapi; `swag init -g cmd/pocketllm/docs.go -o docs` produces a
// fuller replacement. httpapi's TestDocs_MatchRoutes fails when a route is
// added or removed without updating the paths here.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "license": {"name": "MIT", "url": "https://opensource.org/licenses/MIT"},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/profiles": {"get": {"tags": ["profiles"], "summary": "List profiles", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/profiles/{name}": {
            "get": {"tags": ["profiles"], "summary": "Get a profile", "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}], "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}, "422": {"description": "Unprocessable Entity"}}},
            "put": {"tags": ["profiles"], "summary": "Create or replace a profile", "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}, {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}], "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}},
            "delete": {"tags": ["profiles"], "summary": "Delete a profile", "parameters": [{"type": "string", "name": "name", "in": "path", "required": true}], "responses": {"204": {"description": "No Content"}, "404": {"description": "Not Found"}, "409": {"description": "Conflict"}}}
        },
        "/session": {"get": {"tags": ["session"], "summary": "Session status", "responses": {"200": {"description": "OK"}}}},
        "/session/open": {"post": {"tags": ["session"], "summary": "Acquire and load a profile's model", "responses": {"202": {"description": "Accepted"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}}}},
        "/session/load": {"post": {"tags": ["session"], "summary": "Load a local model file", "responses": {"202": {"description": "Accepted"}, "400": {"description": "Bad Request"}, "409": {"description": "Conflict"}}}},
        "/session/parameters": {"post": {"tags": ["session"], "summary": "Push a profile's parameters", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "502": {"description": "Bad Gateway"}}}},
        "/session/generate": {"post": {"tags": ["session"], "summary": "Generate a completion", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}, "429": {"description": "Too Many Requests"}, "502": {"description": "Bad Gateway"}}}},
        "/session/unload": {"post": {"tags": ["session"], "summary": "Unload the model", "responses": {"200": {"description": "OK"}, "429": {"description": "Too Many Requests"}}}},
        "/models": {"get": {"tags": ["models"], "summary": "List downloaded model artifacts", "produces": ["application/json"], "responses": {"200": {"description": "OK"}}}},
        "/events": {"get": {"tags": ["session"], "summary": "Session event stream", "produces": ["application/x-ndjson"], "responses": {"200": {"description": "OK"}}}}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "pocketllm API",
	Description:      "Model session lifecycle and configuration profiles for a local LLM.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
