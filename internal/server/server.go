package server

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/concretepros/directory-api/internal/handler"
	"github.com/concretepros/directory-api/internal/middleware"
	"github.com/concretepros/directory-api/pkg/response"
)

// Options configures the HTTP surface
type Options struct {
	CORSOrigin    string
	AccessLog     bool
	JobsPerHour   int
	ClaimsPerHour int
	Health        func() fiber.Map
}

// Handlers groups every route handler
type Handlers struct {
	Jobs    *handler.JobHandler
	Streams *handler.StreamHandler
	Public  *handler.PublicHandler
	Claims  *handler.ClaimHandler
	Pages   *handler.PageHandler
}

// NewApp builds the fiber app with all routes mounted
func NewApp(opts Options, h Handlers, authMiddleware *middleware.AuthMiddleware, rateLimiter *middleware.RateLimiter) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
		BodyLimit:    1 * 1024 * 1024,
	})

	app.Use(recover.New())
	if opts.AccessLog {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
		}))
	}
	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origin,
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,Cache-Control",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		body := fiber.Map{"status": "ok", "timestamp": time.Now().Unix()}
		if opts.Health != nil {
			body["services"] = opts.Health()
		}
		return c.JSON(body)
	})

	// Public directory
	public := app.Group("/api/public")
	public.Get("/contractors", h.Public.Contractors)
	public.Get("/cities/:slug", h.Public.City)
	public.Get("/categories", h.Public.Categories)
	public.Get("/locations", h.Public.Locations)

	claims := public.Group("/claims")
	claims.Post("/", rateLimiter.ClaimsLimit(opts.ClaimsPerHour), h.Claims.Submit)
	claims.Post("/check-email", h.Claims.CheckEmail)
	claims.Post("/validate-activation", h.Claims.ValidateActivation)
	claims.Post("/activate", h.Claims.Activate)

	// Admin API
	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Get("/", h.Jobs.List)
	jobs.Post("/", rateLimiter.JobsLimit(opts.JobsPerHour), h.Jobs.Create)
	jobs.Get("/active", h.Jobs.Active)
	jobs.Get("/stream", h.Streams.All)
	jobs.Get("/:id", h.Jobs.Get)
	jobs.Get("/:id/stream", h.Streams.Job)
	jobs.Post("/:id/cancel", h.Jobs.Cancel)
	jobs.Post("/:id/retry", rateLimiter.JobsLimit(opts.JobsPerHour), h.Jobs.Retry)

	pages := api.Group("/pages")
	pages.Get("/:id", h.Pages.Get)
	pages.Patch("/:id", h.Pages.Update)
	pages.Delete("/:id", h.Pages.Delete)
	pages.Get("/:id/children", h.Pages.Children)

	// WebSocket
	ws := app.Group("/ws", handler.RequireUpgrade, authMiddleware.Authenticate())
	ws.Get("/jobs/:id", h.Streams.SocketLookup, h.Streams.Socket())

	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code := response.CodeServiceError
		switch fe.Code {
		case fiber.StatusNotFound:
			code = response.CodeNotFound
		case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUpgradeRequired:
			code = response.CodeValidationError
		case fiber.StatusMethodNotAllowed:
			code = response.CodeNotFound
		}
		return response.Error(c, fe.Code, code, fe.Message, nil)
	}
	return response.Error(c, fiber.StatusInternalServerError, response.CodeServiceError, "Internal Server Error", nil)
}
