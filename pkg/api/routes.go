package api

import (
	"github.com/gin-gonic/gin"
)

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes() {
	s.engine.Use(ErrorMiddleware())
	s.engine.Use(LoggingMiddleware())
	s.engine.Use(MetricsMiddleware(s.recorder))
	s.engine.Use(CORSMiddleware(s.config.CORS))
	s.engine.Use(RateLimitMiddleware(s.config.RateLimit, s.config.RateBurst))

	s.engine.GET("/health", s.handlers.HealthCheckHandler)
	s.engine.GET("/metrics", gin.WrapH(s.recorder.Handler()))

	if s.hub != nil {
		s.engine.GET("/ws", gin.WrapF(s.hub.HandleWebSocket))
	}

	v1 := s.engine.Group("/api/v1")

	v1.POST("/trades", s.handlers.SubmitTradeHandler)

	book := v1.Group("/book")
	book.GET("", s.handlers.GetBookHandler)
	book.POST("/flatten", s.handlers.FlattenHandler)

	v1.GET("/risk", s.handlers.GetRiskHandler)
	v1.GET("/curves", s.handlers.GetCurvesHandler)
	v1.GET("/snapshot", s.handlers.GetSnapshotHandler)

	v1.POST("/pricing/quote", s.handlers.QuoteHandler)

	s.engine.NoRoute(s.handlers.NotFoundHandler)
}
