package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Attendance Engine API",
        "description": "Proximity and face verified attendance rounds",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "security": [{"BearerAuth": []}],
    "tags": [
        {"name": "Scans", "description": "Bluetooth proximity scan intake"},
        {"name": "Sessions", "description": "Class sessions and their rounds"},
        {"name": "Rounds", "description": "Round evaluation and cancellation"},
        {"name": "Attendance", "description": "Rates, adjustments and disputes"},
        {"name": "FaceID", "description": "Face re-verification requests"}
    ],
    "paths": {
        "/scans": {
            "post": {
                "tags": ["Scans"],
                "summary": "Enqueue a Bluetooth proximity scan",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ProcessScanDataMessage"}}
                ],
                "responses": {
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Queue unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Create a class session and its attendance rounds",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sessions/{sessionId}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Get a session with its rounds",
                "parameters": [{"name": "sessionId", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Not found"}
                }
            }
        },
        "/schedules/{scheduleId}/sessions": {
            "get": {
                "tags": ["Sessions"],
                "summary": "List sessions generated from a schedule",
                "parameters": [{"name": "scheduleId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sessions/{sessionId}/cancel": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Cancel a session and its open rounds",
                "parameters": [{"name": "sessionId", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Concurrent status change"},
                    "412": {"description": "Session already completed"}
                }
            }
        },
        "/sessions/{sessionId}/summary": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Per-student attendance roll-up for a session",
                "parameters": [{"name": "sessionId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/sessions/{sessionId}/rounds/{roundId}/evaluate": {
            "post": {
                "tags": ["Rounds"],
                "summary": "Evaluate and finalize attendance for a completed round",
                "parameters": [
                    {"name": "sessionId", "in": "path", "required": true, "type": "string"},
                    {"name": "roundId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Evaluation", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Round not found"},
                    "409": {"description": "Evaluation in progress elsewhere"},
                    "412": {"description": "Round not completed"}
                }
            }
        },
        "/rounds/{roundId}/cancel": {
            "post": {
                "tags": ["Rounds"],
                "summary": "Cancel a pending or active round",
                "parameters": [{"name": "roundId", "in": "path", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "Cancelled", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Round already completed"}
                }
            }
        },
        "/students/{studentId}/courses/{courseId}/attendance-rate": {
            "get": {
                "tags": ["Attendance"],
                "summary": "Attendance rate of a student in a course",
                "parameters": [
                    {"name": "studentId", "in": "path", "required": true, "type": "string"},
                    {"name": "courseId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Enrollment not found"}
                }
            }
        },
        "/attendance/adjustments": {
            "post": {
                "tags": ["Attendance"],
                "summary": "Manually adjust a finalized attendance record",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AdjustAttendanceRequest"}}
                ],
                "responses": {
                    "201": {"description": "New record version", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Round not finalized or grace period expired"}
                }
            }
        },
        "/error-reports": {
            "post": {
                "tags": ["Attendance"],
                "summary": "File an attendance error report",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ErrorReportRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Grace period expired"}
                }
            }
        },
        "/faceid/requests": {
            "post": {
                "tags": ["FaceID"],
                "summary": "Request face re-verification from a user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateVerifyRequest"}}
                ],
                "responses": {"201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        },
        "/faceid/requests/{requestId}/complete": {
            "post": {
                "tags": ["FaceID"],
                "summary": "Deliver the scorer answer for a verify request",
                "parameters": [
                    {"name": "requestId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CompleteVerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Answered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already answered"},
                    "412": {"description": "Expired"}
                }
            }
        },
        "/faceid/requests/{requestId}/verify": {
            "post": {
                "tags": ["FaceID"],
                "summary": "Score a fresh capture against the enrolled face",
                "parameters": [
                    {"name": "requestId", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyFaceRequest"}}
                ],
                "responses": {
                    "200": {"description": "Scored", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Scorer unavailable"}
                }
            }
        },
        "/faceid/groups/{groupId}/cancel": {
            "post": {
                "tags": ["FaceID"],
                "summary": "Cancel every pending request in a group",
                "parameters": [{"name": "groupId", "in": "path", "required": true, "type": "string"}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}}
            }
        }
    },
    "definitions": {
        "ScannedDevice": {
            "type": "object",
            "properties": {
                "macAddress": {"type": "string"},
                "rssi": {"type": "integer"}
            }
        },
        "ProcessScanDataMessage": {
            "type": "object",
            "properties": {
                "deviceId": {"type": "string"},
                "submitterUserId": {"type": "string"},
                "sessionId": {"type": "string"},
                "timestamp": {"type": "string", "format": "date-time"},
                "scannedDevices": {"type": "array", "items": {"$ref": "#/definitions/ScannedDevice"}}
            },
            "required": ["deviceId", "sessionId", "timestamp"]
        },
        "CreateSessionRequest": {
            "type": "object",
            "properties": {
                "scheduleId": {"type": "string"},
                "courseId": {"type": "string"},
                "classSectionId": {"type": "string"},
                "lecturerId": {"type": "string"},
                "startTime": {"type": "string", "format": "date-time"},
                "endTime": {"type": "string", "format": "date-time"}
            },
            "required": ["scheduleId", "courseId", "classSectionId", "lecturerId", "startTime", "endTime"]
        },
        "AdjustAttendanceRequest": {
            "type": "object",
            "properties": {
                "enrollmentId": {"type": "string"},
                "roundId": {"type": "string"},
                "present": {"type": "boolean"},
                "note": {"type": "string"}
            },
            "required": ["enrollmentId", "roundId", "present"]
        },
        "ErrorReportRequest": {
            "type": "object",
            "properties": {
                "sessionId": {"type": "string"},
                "roundId": {"type": "string"},
                "description": {"type": "string"}
            },
            "required": ["sessionId", "description"]
        },
        "CreateVerifyRequest": {
            "type": "object",
            "properties": {
                "targetUserId": {"type": "string"},
                "sessionId": {"type": "string"},
                "roundId": {"type": "string"},
                "groupId": {"type": "string"},
                "threshold": {"type": "number"},
                "expiresAt": {"type": "string", "format": "date-time"}
            },
            "required": ["targetUserId", "sessionId"]
        },
        "CompleteVerifyRequest": {
            "type": "object",
            "properties": {
                "matched": {"type": "boolean"},
                "similarity": {"type": "number"}
            },
            "required": ["matched"]
        },
        "VerifyFaceRequest": {
            "type": "object",
            "properties": {"imageUrl": {"type": "string"}},
            "required": ["imageUrl"]
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
