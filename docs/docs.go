// Package docs registers the OpenAPI specification served by the swagger UI.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/": {
            "get": {
                "produces": ["application/json"],
                "tags": ["meta"],
                "summary": "API root info",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}}
                }
            }
        },
        "/health/store": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "State store health check",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "503": {"description": "Service Unavailable", "schema": {"type": "object"}}
                }
            }
        },
        "/api/v1/crosswalks": {
            "get": {
                "produces": ["application/json"],
                "tags": ["crosswalks"],
                "summary": "List crosswalks",
                "description": "Returns every known crosswalk with its current pedestrian and driver counts.",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {"type": "array", "items": {"type": "object"}}
                    }
                }
            }
        },
        "/api/v1/crosswalks/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["crosswalks"],
                "summary": "Crosswalk snapshot",
                "description": "Returns presence, telemetry, and active-alert state for one crosswalk.",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true, "description": "Crosswalk id"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object"}},
                    "404": {"description": "Not Found", "schema": {"type": "object"}}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0.0",
	Host:             "localhost:8000",
	BasePath:         "/",
	Schemes:          []string{"http", "https"},
	Title:            "Crossguard API",
	Description:      "Realtime crosswalk proximity-alert coordination service. Alerts are delivered over the websocket endpoint at /ws; this REST surface serves health and read-only snapshots.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
