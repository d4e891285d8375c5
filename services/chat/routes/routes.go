// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianBrief/services/chat/events"
	"github.com/AleutianAI/AleutianBrief/services/chat/handlers"
	"github.com/AleutianAI/AleutianBrief/services/chat/store"
	"github.com/AleutianAI/AleutianBrief/services/chat/tasks"
)

// SetupRoutes registers the HTTP surface on router.
func SetupRoutes(router *gin.Engine, chats store.ChatStore, sub events.Subscriber,
	queue tasks.TaskQueue, starter handlers.ReplyStarter, enableMetrics bool) {

	router.GET("/health", handlers.HealthCheck)
	if enableMetrics {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	// API version 1 group
	v1 := router.Group("/v1")
	{
		chatsGroup := v1.Group("/chats/:chatId")
		{
			chatsGroup.POST("/messages", handlers.SendMessage(chats, queue, starter))
			chatsGroup.GET("/messages/:messageId/stream", handlers.StreamMessage(chats, sub))
		}
	}
}
