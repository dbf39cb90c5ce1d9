package handlers

import (
	"github.com/Matheus2505060/multpost-ai/internal/worker"
	"github.com/gofiber/fiber/v2"
)

type StatusProvider interface {
	GetStatus() worker.Status
}

type WorkerHandler struct {
	w StatusProvider
}

func NewWorkerHandler(w StatusProvider) *WorkerHandler {
	return &WorkerHandler{w: w}
}

func (h *WorkerHandler) GetStatus(c *fiber.Ctx) error {
	status := h.w.GetStatus()
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"running":          status.Running,
		"interval_seconds": int64(status.Interval.Seconds()),
	})
}
