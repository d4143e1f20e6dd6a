package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/connexto/msgbridge/internal/response"
)

type HealthData struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Sessions  int       `json:"sessions"`
	Engine    string    `json:"engine"`
}

type EngineProbe interface {
	IsRunning() bool
	SessionCount() int
}

type HealthHandler struct {
	version string
	engine  EngineProbe
}

func NewHealthHandler(version string, engine EngineProbe) *HealthHandler {
	return &HealthHandler{
		version: version,
		engine:  engine,
	}
}

func (h *HealthHandler) Register(app *fiber.App) {
	app.Get("/health", h.Health)
	app.Get(APIPrefix+"/health", h.Health)
}

// Health godoc
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} response.Envelope{data=HealthData}
// @Router /health [get]
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	engineState := "stopped"
	if h.engine.IsRunning() {
		engineState = "running"
	}
	return response.OK(c, HealthData{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Sessions:  h.engine.SessionCount(),
		Engine:    engineState,
	})
}
