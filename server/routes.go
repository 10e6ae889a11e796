package server

import (
	"github.com/labstack/echo/v4"
)

// SetupRoutes registers the control API. rateLimit may be nil.
func (s *Server) SetupRoutes(authMiddleware echo.MiddlewareFunc, rateLimit echo.MiddlewareFunc) {
	e := s.Echo
	api := e.Group("/api/v1")
	protected := api.Group("")
	protected.Use(authMiddleware)
	if rateLimit != nil {
		protected.Use(rateLimit)
	}
	{
		conversations := protected.Group("/conversations")
		{
			conversations.GET("", s.ConversationHandler.ListConversations)
			conversations.POST("/find-or-create", s.ConversationHandler.FindOrCreate)
			conversations.POST("/:id/read", s.ConversationHandler.MarkRead)
			conversations.POST("/:id/open", s.ConversationHandler.OpenConversation)
			conversations.GET("/:id/transcript", s.SessionHandler.Transcript)
		}
		session := protected.Group("/session")
		{
			session.GET("", s.SessionHandler.GetSession)
			session.DELETE("", s.SessionHandler.CloseSession)
			session.POST("/older", s.SessionHandler.LoadOlder)
			session.POST("/messages", s.SessionHandler.SendMessage)
			session.PUT("/private", s.SessionHandler.SetPrivate)
			session.POST("/app-state", s.SessionHandler.AppState)
		}
		protected.GET("/session/ws", s.ChatWebSocketHandler.HandleWebSocket)
	}
}
