// Package docs registers the swagger document served under /swagger.
// It is written by hand after the swag annotations in controller, update both together.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {
            "name": "Dilshat Aliev",
            "email": "dilshat.aliev@gmail.com"
        },
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/broadcasts": {
            "get": {
                "description": "Lists the owner's broadcasts, newest first",
                "produces": ["application/json"],
                "summary": "List broadcasts",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.Broadcast"}}}
                }
            },
            "post": {
                "description": "Creates a broadcast with one pending recipient per active contact",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Create broadcast",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"description": "Broadcast", "name": "broadcast", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.NewBroadcast"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Id"}},
                    "400": {"description": "error description"}
                }
            }
        },
        "/broadcasts/{id}": {
            "get": {
                "description": "Returns the broadcast with per-recipient statuses",
                "produces": ["application/json"],
                "summary": "Get broadcast",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "integer", "description": "Broadcast id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.BroadcastDetails"}},
                    "404": {"description": "error description"}
                }
            },
            "delete": {
                "description": "Deletes the broadcast and its recipients",
                "summary": "Delete broadcast",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "integer", "description": "Broadcast id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "error description"},
                    "409": {"description": "error description"}
                }
            }
        },
        "/broadcasts/{id}/send": {
            "post": {
                "description": "Dispatches the broadcast to all pending recipients and waits for the run to finish",
                "produces": ["application/json"],
                "summary": "Send broadcast",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "integer", "description": "Broadcast id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Summary"}},
                    "404": {"description": "error description"},
                    "409": {"description": "error description"}
                }
            }
        },
        "/broadcasts/{id}/retry": {
            "post": {
                "description": "Returns failed recipients to pending and the broadcast to draft",
                "produces": ["application/json"],
                "summary": "Retry broadcast",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "integer", "description": "Broadcast id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Broadcast"}},
                    "400": {"description": "error description"},
                    "404": {"description": "error description"}
                }
            }
        },
        "/broadcasts/{id}/progress": {
            "get": {
                "description": "Returns the latest progress snapshot",
                "produces": ["application/json"],
                "summary": "Broadcast progress",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "integer", "description": "Broadcast id", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Progress"}},
                    "404": {"description": "error description"}
                }
            }
        },
        "/contacts": {
            "get": {
                "produces": ["application/json"],
                "summary": "List contacts",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/dto.Contact"}}}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Create contact",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"description": "Contact", "name": "contact", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.NewContact"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Id"}},
                    "400": {"description": "error description"}
                }
            }
        },
        "/contacts/{id}/status": {
            "put": {
                "description": "Inactive contacts are left out of new broadcasts",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Activate or deactivate contact",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true},
                    {"type": "integer", "description": "Contact id", "name": "id", "in": "path", "required": true},
                    {"description": "active or inactive", "name": "status", "in": "body", "required": true, "schema": {"$ref": "#/definitions/dto.ContactStatus"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/dto.Contact"}},
                    "400": {"description": "error description"},
                    "404": {"description": "error description"}
                }
            }
        },
        "/webhooks/whatsapp": {
            "get": {
                "description": "Answers the Cloud API subscription handshake with hub.challenge",
                "produces": ["text/plain"],
                "summary": "WhatsApp webhook verification",
                "parameters": [
                    {"type": "string", "description": "subscribe", "name": "hub.mode", "in": "query", "required": true},
                    {"type": "string", "description": "Configured verify token", "name": "hub.verify_token", "in": "query", "required": true},
                    {"type": "string", "description": "Challenge to echo", "name": "hub.challenge", "in": "query", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "string"}},
                    "403": {"description": "Forbidden"}
                }
            },
            "post": {
                "description": "Accepts signed Cloud API status callbacks and applies delivered/read receipts",
                "consumes": ["application/json"],
                "summary": "WhatsApp status webhook",
                "parameters": [
                    {"type": "string", "description": "sha256=<hex hmac of the body>", "name": "X-Hub-Signature-256", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "401": {"description": "error description"}
                }
            }
        },
        "/ws/progress": {
            "get": {
                "description": "Websocket. Send {\"type\":\"join\",\"broadcastId\":N} or {\"type\":\"leave\",\"broadcastId\":N}, receive progress frames",
                "summary": "Progress socket",
                "parameters": [
                    {"type": "string", "description": "Owner id", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {}
            }
        }
    },
    "definitions": {
        "dto.Id": {
            "type": "object",
            "properties": {"id": {"type": "integer"}}
        },
        "dto.NewBroadcast": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "message": {"type": "string"},
                "contactIds": {"type": "array", "items": {"type": "integer"}},
                "scheduledAt": {"type": "string"}
            }
        },
        "dto.Broadcast": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "title": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "string"},
                "total": {"type": "integer"},
                "sent": {"type": "integer"},
                "failed": {"type": "integer"},
                "pending": {"type": "integer"},
                "scheduledAt": {"type": "string"},
                "sentAt": {"type": "string"},
                "completedAt": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        },
        "dto.BroadcastDetails": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "title": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "string"},
                "total": {"type": "integer"},
                "sent": {"type": "integer"},
                "failed": {"type": "integer"},
                "pending": {"type": "integer"},
                "recipients": {"type": "array", "items": {"$ref": "#/definitions/dto.Recipient"}}
            }
        },
        "dto.Recipient": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "name": {"type": "string"},
                "phone": {"type": "string"},
                "status": {"type": "string"},
                "error": {"type": "string"},
                "sentAt": {"type": "string"},
                "deliveredAt": {"type": "string"},
                "readAt": {"type": "string"}
            }
        },
        "dto.Summary": {
            "type": "object",
            "properties": {
                "sentCount": {"type": "integer"},
                "failedCount": {"type": "integer"}
            }
        },
        "dto.Progress": {
            "type": "object",
            "properties": {
                "broadcastId": {"type": "integer"},
                "sent": {"type": "integer"},
                "failed": {"type": "integer"},
                "pending": {"type": "integer"},
                "total": {"type": "integer"}
            }
        },
        "dto.NewContact": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "phone": {"type": "string"}
            }
        },
        "dto.ContactStatus": {
            "type": "object",
            "properties": {"status": {"type": "string"}}
        },
        "dto.Contact": {
            "type": "object",
            "properties": {
                "id": {"type": "integer"},
                "name": {"type": "string"},
                "phone": {"type": "string"},
                "status": {"type": "string"},
                "createdAt": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "",
	Host:             "",
	BasePath:         "",
	Schemes:          []string{},
	Title:            "WhatsApp broadcast HTTP API",
	Description:      "Broadcast messages to contacts over WhatsApp and follow delivery progress",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
