// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scribe

import "github.com/gin-gonic/gin"

// RegisterRoutes registers the scribe routes on the given router group.
//
// Routes:
//
//	POST   /v1/scribe/sessions             - Open an editing session
//	GET    /v1/scribe/sessions             - List open sessions
//	GET    /v1/scribe/sessions/:id         - Describe one session
//	DELETE /v1/scribe/sessions/:id         - Close a session
//	POST   /v1/scribe/sessions/:id/batches - Run a command batch
//	POST   /v1/scribe/batches/validate     - Validate a batch without running it
//	POST   /v1/scribe/documents/batch      - Process documents concurrently
//	GET    /v1/scribe/commands             - List the command catalog
//	GET    /v1/scribe/health               - Service health
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	scribe := rg.Group("/scribe")
	{
		scribe.GET("/health", handlers.HandleHealth)
		scribe.GET("/commands", handlers.HandleListCommands)

		sessions := scribe.Group("/sessions")
		{
			sessions.POST("", handlers.HandleCreateSession)
			sessions.GET("", handlers.HandleListSessions)
			sessions.GET("/:id", handlers.HandleGetSession)
			sessions.DELETE("/:id", handlers.HandleCloseSession)
			sessions.POST("/:id/batches", handlers.HandleRunBatch)
		}

		batches := scribe.Group("/batches")
		{
			batches.POST("/validate", handlers.HandleValidateBatch)
		}

		documents := scribe.Group("/documents")
		{
			documents.POST("/batch", handlers.HandleProcessDocuments)
		}
	}
}
