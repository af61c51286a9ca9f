package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Sufragio API",
        "description": "Voting record lifecycle over a verifiable append-only ledger",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Sufragios", "description": "Voter registration, check-in and ballot casting"},
        {"name": "History", "description": "Revision history, chain verification and exports"},
        {"name": "Ops", "description": "Health, readiness and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {"tags": ["Ops"], "summary": "Liveness check", "responses": {"200": {"description": "OK"}}}
        },
        "/ready": {
            "get": {
                "tags": ["Ops"],
                "summary": "Readiness check",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unreachable"}
                }
            }
        },
        "/metrics": {
            "get": {"tags": ["Ops"], "summary": "Prometheus metrics", "produces": ["text/plain"], "responses": {"200": {"description": "OK"}}}
        },
        "/metrics/summary": {
            "get": {
                "tags": ["Ops"],
                "summary": "In-process metrics summary",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/sufragios": {
            "post": {
                "tags": ["Sufragios"],
                "summary": "Register a voter at a voting center",
                "parameters": [
                    {"name": "X-Operator-ID", "in": "header", "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSufragioRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error, duplicate nationalId", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Transaction conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sufragios/verify": {
            "post": {
                "tags": ["Sufragios"],
                "summary": "Verify a voter at the receiving table",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CheckInRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Record not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition or conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sufragios/cast": {
            "post": {
                "tags": ["Sufragios"],
                "summary": "Record the ballot cast at the booth",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CastBallotRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Record not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Invalid transition or conflict", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sufragios/{id}": {
            "get": {
                "tags": ["Sufragios"],
                "summary": "Current state of a voting record",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Record not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sufragios/{id}/history": {
            "get": {
                "tags": ["History"],
                "summary": "Revision history of a voting record",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/sufragios/{id}/history/verify": {
            "get": {
                "tags": ["History"],
                "summary": "Recompute the hash chain of a voting record",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/api/v1/sufragios/{id}/history/export": {
            "get": {
                "tags": ["History"],
                "summary": "Download the revision history",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "File", "schema": {"type": "file"}},
                    "400": {"description": "Unsupported format", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "History failed verification", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sufragios/{id}/projection": {
            "get": {
                "tags": ["History"],
                "summary": "Projected read model of a voting record",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Projection disabled or unreachable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/sufragios/{id}/projection/revisions": {
            "get": {
                "tags": ["History"],
                "summary": "Projected views a voting record went through",
                "parameters": [{"name": "id", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "No projected revisions", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Projection history disabled or unreachable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CreateSufragioRequest": {
            "type": "object",
            "required": ["nationalId", "name", "votingCenter", "department", "municipality", "sex"],
            "properties": {
                "nationalId": {"type": "string"},
                "name": {"type": "string"},
                "votingCenter": {"type": "string"},
                "department": {"type": "string"},
                "municipality": {"type": "string"},
                "sex": {"type": "string", "enum": ["M", "F"]}
            }
        },
        "CheckInRequest": {
            "type": "object",
            "required": ["recordId"],
            "properties": {"recordId": {"type": "string"}}
        },
        "CastBallotRequest": {
            "type": "object",
            "required": ["recordId", "ballotId"],
            "properties": {"recordId": {"type": "string"}, "ballotId": {"type": "string"}}
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "status": {"type": "integer"},
                "title": {"type": "string"},
                "detail": {"type": "string"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
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
