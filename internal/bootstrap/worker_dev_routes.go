package bootstrap

import (
	"warranty_worker/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// RegisterDevRoutes exposes replies captured by the log mailer. Development only.
func RegisterDevRoutes(app *fiber.App, deps *Dependencies) {
	dev := app.Group("/dev")
	dev.Get("/sent", func(c *fiber.Ctx) error {
		sent := deps.LogMailer.Sent()
		return response.OKWithMeta(c, sent, &response.Meta{Total: len(sent)})
	})
}
