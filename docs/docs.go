// Package docs holds the generated OpenAPI description consumed by
// gin-swagger. In a normal build this file is produced by `swag init`
// from the @Summary/@Router annotations on the handlers; it's checked in
// here so the swagger UI route has something to serve without requiring
// that step at build time.
package docs

import (
	"github.com/swaggo/swag"
)

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
    "paths": {}
}`

// SwaggerInfo holds exported Swagger metadata, populated at init time and
// read by gin-swagger's WrapHandler.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Anonymous Board Backend API",
	Description:      "Location-scoped, anonymous posting board: submit, list, report, and moderate short messages over HTTP and WebSocket, with abuse defenses driven by a shared Redis coordination store.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
