// Package swagger registers the OpenAPI document served at /swagger/*any.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Review API",
        "description": "Scores uploaded articles against a ten item methodological checklist and keeps every scoring pass as a numbered version.",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Submissions", "description": "Uploads, versions and reports"}
    ],
    "paths": {
        "/submissions": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Create a submission",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "title", "in": "formData", "type": "string", "required": true},
                    {"name": "pdf", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/VersionResponse"}},
                    "400": {"description": "Invalid upload or title", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "409": {"description": "Duplicate title", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "422": {"description": "No extractable text", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "502": {"description": "Scoring failed", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "503": {"description": "Store unavailable", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/submissions/versions": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Add the next version",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "Idempotency-Key", "in": "header", "type": "string"},
                    {"name": "title", "in": "formData", "type": "string", "required": true},
                    {"name": "pdf", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/VersionResponse"}},
                    "404": {"description": "Submission not found", "schema": {"$ref": "#/definitions/ErrorResponse"}},
                    "503": {"description": "Store unavailable or busy", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/analyze": {
            "post": {
                "tags": ["Submissions"],
                "summary": "Analyze a PDF, title from metadata",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "pdf", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/VersionResponse"}}
                }
            }
        },
        "/titles": {
            "get": {
                "tags": ["Submissions"],
                "summary": "List submission titles",
                "parameters": [
                    {"name": "If-None-Match", "in": "header", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/TitlesResponse"}},
                    "304": {"description": "Not Modified"}
                }
            }
        },
        "/versions": {
            "get": {
                "tags": ["Submissions"],
                "summary": "List versions of a submission",
                "parameters": [
                    {"name": "title", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/VersionsResponse"}},
                    "404": {"description": "Submission not found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/versions/{number}": {
            "get": {
                "tags": ["Submissions"],
                "summary": "Get one version",
                "parameters": [
                    {"name": "number", "in": "path", "type": "integer", "minimum": 1, "required": true},
                    {"name": "title", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/VersionResponse"}},
                    "404": {"description": "Not found", "schema": {"$ref": "#/definitions/ErrorResponse"}}
                }
            }
        },
        "/versions/{number}/report.pdf": {
            "get": {
                "tags": ["Submissions"],
                "summary": "Download a version as PDF",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "number", "in": "path", "type": "integer", "minimum": 1, "required": true},
                    {"name": "title", "in": "query", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "PDF report", "schema": {"type": "file"}}
                }
            }
        }
    },
    "definitions": {
        "ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "Answer": {
            "type": "object",
            "properties": {
                "answer": {"type": "string", "enum": ["Yes", "No", "N/A"]},
                "justification": {"type": "string"}
            }
        },
        "VersionResponse": {
            "type": "object",
            "properties": {
                "submission_id": {"type": "string"},
                "title": {"type": "string"},
                "version": {"type": "integer"},
                "timestamp": {"type": "string", "format": "date-time"},
                "document_id": {"type": "string"},
                "checklist": {"type": "string"},
                "kind": {"type": "string", "enum": ["flat", "annotated", "decode_failure"]},
                "degraded": {"type": "boolean"},
                "results": {"type": "object"},
                "answers": {"type": "object", "additionalProperties": {"$ref": "#/definitions/Answer"}},
                "created": {"type": "boolean"}
            }
        },
        "TitlesResponse": {
            "type": "object",
            "properties": {"titles": {"type": "array", "items": {"type": "string"}}}
        },
        "VersionsResponse": {
            "type": "object",
            "properties": {
                "title": {"type": "string"},
                "versions": {"type": "array", "items": {"type": "integer"}}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the OpenAPI document.
func (swaggerDoc) ReadDoc() string { return docTemplate }

func init() {
	swag.Register(swag.Name, swaggerDoc{})
}
