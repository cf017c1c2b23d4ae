package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SEB Admin API",
        "description": "Batch and bulk administration actions for exam entities",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "BatchActions", "description": "Asynchronous per entity actions processed in the background"},
        {"name": "BulkActions", "description": "Synchronous cascading activate, deactivate and delete"},
        {"name": "Observability", "description": "Health and processing counters"}
    ],
    "paths": {
        "/batch-actions": {
            "get": {
                "tags": ["BatchActions"],
                "summary": "List batch actions of an institution",
                "parameters": [
                    {"name": "state", "in": "query", "type": "string", "enum": ["running", "finished"]},
                    {"name": "entity_type", "in": "query", "type": "string"},
                    {"name": "institution_id", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid query", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["BatchActions"],
                "summary": "Submit a batch action",
                "description": "Stores the job and returns immediately, processing happens in the background.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateBatchActionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "501": {"description": "Action type not supported", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/batch-actions/{id}": {
            "get": {
                "tags": ["BatchActions"],
                "summary": "Get batch action progress",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["BatchActions"],
                "summary": "Delete a finished batch action",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "Deleted"},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Still running", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bulk-actions": {
            "post": {
                "tags": ["BulkActions"],
                "summary": "Execute a bulk action",
                "description": "Applies the action to all dependents, then the sources, and returns the processing report.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkActionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "501": {"description": "Source type not supported", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/bulk-actions/dependencies": {
            "post": {
                "tags": ["BulkActions"],
                "summary": "Preview the dependents a bulk action would touch",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/BulkActionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Observability"],
                "summary": "Processing counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateBatchActionRequest": {
            "type": "object",
            "required": ["action_type", "source_ids"],
            "properties": {
                "action_type": {"type": "string", "enum": ["ARCHIVE_EXAM", "DELETE_EXAM", "EXAM_CONFIG_DELETE", "EXAM_CONFIG_STATE_CHANGE", "EXAM_CONFIG_RESET_TO_TEMPLATE"]},
                "institution_id": {"type": "string"},
                "attributes": {"type": "object", "additionalProperties": {"type": "string"}},
                "source_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "EntityKey": {
            "type": "object",
            "required": ["model_id", "entity_type"],
            "properties": {
                "model_id": {"type": "string"},
                "entity_type": {"type": "string"}
            }
        },
        "BulkActionRequest": {
            "type": "object",
            "required": ["type", "sources"],
            "properties": {
                "type": {"type": "string", "enum": ["ACTIVATE", "DEACTIVATE", "HARD_DELETE"]},
                "sources": {"type": "array", "items": {"$ref": "#/definitions/EntityKey"}},
                "include": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
