// Package docs registers the OpenAPI document served under /swagger/.
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
        "/v1/persistence/status": {
            "get": {
                "description": "Returns which storage tiers are usable, remediation hints and offline queue depth.",
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Persistence status",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"},
                    {"type": "boolean", "description": "Bypass the cached probe result", "name": "force", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.StatusResponse"}}
                }
            }
        },
        "/v1/collections/{key}": {
            "get": {
                "description": "Returns the stored collection from the highest usable tier; never fails for known entities.",
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Read a collection",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"},
                    {"type": "string", "description": "Entity collection", "name": "key", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.CollectionResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}}
                }
            },
            "put": {
                "description": "Writes the whole collection to every usable tier and queues it for replay when remote storage is unreachable.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Replace a collection",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"},
                    {"type": "string", "description": "Entity collection", "name": "key", "in": "path", "required": true},
                    {"description": "Collection items", "name": "request", "in": "body", "required": true, "schema": {"$ref": "#/definitions/httptransport.SetCollectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.WriteResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}}
                }
            }
        },
        "/v1/collections/{key}/items": {
            "post": {
                "description": "Appends an item, generating an id when missing; queued for replay while offline.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Add an item",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"},
                    {"type": "string", "description": "Entity collection", "name": "key", "in": "path", "required": true},
                    {"description": "Item fields", "name": "request", "in": "body", "required": true, "schema": {"type": "object", "additionalProperties": true}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/httptransport.ItemResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}}
                }
            }
        },
        "/v1/collections/{key}/items/{item_id}": {
            "patch": {
                "description": "Merges the patch into the item with the given id.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Update an item",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"},
                    {"type": "string", "description": "Entity collection", "name": "key", "in": "path", "required": true},
                    {"type": "string", "description": "Item id", "name": "item_id", "in": "path", "required": true},
                    {"description": "Fields to change", "name": "request", "in": "body", "required": true, "schema": {"type": "object", "additionalProperties": true}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.ItemResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["sync-engine"],
                "summary": "Remove an item",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"},
                    {"type": "string", "description": "Entity collection", "name": "key", "in": "path", "required": true},
                    {"type": "string", "description": "Item id", "name": "item_id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}}
                }
            }
        },
        "/v1/sync/queue": {
            "get": {
                "description": "Lists the caller's operations waiting for replay, in enqueue order.",
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Offline queue",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.QueueResponse"}}
                }
            }
        },
        "/v1/sync/drain": {
            "post": {
                "description": "Replays queued operations now, regardless of the connectivity flag.",
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Drain the offline queue",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.DrainResponse"}}
                }
            }
        },
        "/v1/sync/migrate": {
            "post": {
                "description": "Upserts every local key owned by the user into the keyed-blob store, then pulls newer remote rows.",
                "produces": ["application/json"],
                "tags": ["sync-engine"],
                "summary": "Migrate local data to remote storage",
                "parameters": [
                    {"type": "string", "description": "Signed-in user id", "name": "X-User-Id", "in": "header", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/httptransport.MigrateResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/httptransport.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "httptransport.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "httptransport.StatusResponse": {
            "type": "object",
            "properties": {
                "local_store_usable": {"type": "boolean"},
                "remote_auth_usable": {"type": "boolean"},
                "remote_blob_usable": {"type": "boolean"},
                "remote_tables_usable": {"type": "boolean"},
                "user_id": {"type": "string"},
                "errors": {"type": "array", "items": {"type": "string"}},
                "hints": {"type": "array", "items": {"type": "string"}},
                "checked_at": {"type": "string"},
                "online": {"type": "boolean"},
                "pending_operations": {"type": "integer"},
                "last_sync_at": {"type": "string"}
            }
        },
        "httptransport.CollectionResponse": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "items": {"type": "array", "items": {"type": "object", "additionalProperties": true}}
            }
        },
        "httptransport.SetCollectionRequest": {
            "type": "object",
            "properties": {
                "items": {"type": "array", "items": {"type": "object", "additionalProperties": true}}
            }
        },
        "httptransport.WriteResponse": {
            "type": "object",
            "properties": {
                "local": {"type": "boolean"},
                "remote": {"type": "boolean"},
                "queued": {"type": "boolean"}
            }
        },
        "httptransport.ItemResponse": {
            "type": "object",
            "properties": {
                "key": {"type": "string"},
                "item": {"type": "object", "additionalProperties": true}
            }
        },
        "httptransport.PendingOperationDTO": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "key": {"type": "string"},
                "kind": {"type": "string"},
                "item_id": {"type": "string"},
                "created_at": {"type": "string"},
                "user_id": {"type": "string"},
                "attempts": {"type": "integer"}
            }
        },
        "httptransport.QueueResponse": {
            "type": "object",
            "properties": {
                "online": {"type": "boolean"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/httptransport.PendingOperationDTO"}}
            }
        },
        "httptransport.DrainResponse": {
            "type": "object",
            "properties": {
                "attempted": {"type": "integer"},
                "replayed": {"type": "integer"},
                "requeued": {"type": "integer"},
                "dropped": {"type": "integer"},
                "pushed": {"type": "integer"},
                "remaining": {"type": "integer"},
                "completed_at": {"type": "string"}
            }
        },
        "httptransport.MigrateResponse": {
            "type": "object",
            "properties": {
                "user_id": {"type": "string"},
                "migrated": {"type": "integer"},
                "pulled": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "dashsync API",
	Description:      "Tiered persistence and offline sync engine for dashboard collections.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
