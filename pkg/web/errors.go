package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

const problemContentType = "application/problem+json"

func problem(c fiber.Ctx, status int, kind, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(status).JSON(p, problemContentType)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func notFound(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusNotFound, "not_found", detail)
}

func conflict(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusConflict, "conflict", detail)
}

func unprocessable(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusUnprocessableEntity, "invalid_campaign", detail)
}

func unauthorized(c fiber.Ctx) error {
	c.Set(fiber.HeaderWWWAuthenticate, `Bearer realm="dunning"`)

	return problem(c, fiber.StatusUnauthorized, "unauthorized", "missing or invalid credentials")
}

// internalError never exposes err to the caller.
func internalError(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusInternalServerError, "internal_error", detail)
}
