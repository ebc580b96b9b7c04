package controller

import (
	"bufio"
	"context"
	"errors"
	"time"

	"podcast-research-sync/internal/dto"
	"podcast-research-sync/internal/entity"
	"podcast-research-sync/internal/pkg/logger"
	"podcast-research-sync/internal/pkg/serverutils"
	"podcast-research-sync/internal/repository/contract"
	"podcast-research-sync/internal/service"

	"github.com/gofiber/fiber/v2"
)

const analysisTimeout = 5 * time.Minute

type IResearchSessionController interface {
	RegisterRoutes(r fiber.Router)
	Create(ctx *fiber.Ctx) error
	List(ctx *fiber.Ctx) error
	Show(ctx *fiber.Ctx) error
	Update(ctx *fiber.Ctx) error
	Enrich(ctx *fiber.Ctx) error
	Share(ctx *fiber.Ctx) error
	ShowShare(ctx *fiber.Ctx) error
	Analyze(ctx *fiber.Ctx) error
}

type researchSessionController struct {
	service   service.ISessionHostService
	jwtSecret string
	logger    logger.ILogger
}

func NewResearchSessionController(service service.ISessionHostService, jwtSecret string, log logger.ILogger) IResearchSessionController {
	return &researchSessionController{service: service, jwtSecret: jwtSecret, logger: log}
}

func (c *researchSessionController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/research-sessions")
	h.Use(serverutils.OptionalJwtMiddleware(c.jwtSecret))
	h.Get("", c.List)
	h.Post("", c.Create)
	h.Post("enrich", c.Enrich) // before :id
	h.Get(":id", c.Show)
	h.Patch(":id", c.Update)
	h.Post(":id/share", c.Share)
	h.Post(":id/analyze", c.Analyze)

	r.Get("/research-shares/:shareId", c.ShowShare)
}

func (c *researchSessionController) Create(ctx *fiber.Ctx) error {
	var req dto.CreateResearchSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.ClientId == "" {
		req.ClientId = ctx.Query("clientId")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Create(ctx.Context(), c.owner(ctx, req.ClientId), req)
	if err != nil {
		return mapSessionError(err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success create research session", res))
}

func (c *researchSessionController) List(ctx *fiber.Ctx) error {
	owner, err := c.requireOwner(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.List(ctx.Context(), owner)
	if err != nil {
		return mapSessionError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success get research sessions", res))
}

func (c *researchSessionController) Show(ctx *fiber.Ctx) error {
	owner, err := c.requireOwner(ctx)
	if err != nil {
		return err
	}

	res, err := c.service.Get(ctx.Context(), owner, ctx.Params("id"))
	if err != nil {
		return mapSessionError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show research session", res))
}

func (c *researchSessionController) Update(ctx *fiber.Ctx) error {
	var req dto.UpdateResearchSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.ClientId == "" {
		req.ClientId = ctx.Query("clientId")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Update(ctx.Context(), c.owner(ctx, req.ClientId), ctx.Params("id"), req)
	if err != nil {
		return mapSessionError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success update research session", res))
}

func (c *researchSessionController) Enrich(ctx *fiber.Ctx) error {
	var req dto.EnrichItemsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Enrich(ctx.Context(), req.PineconeIds)
	if err != nil {
		return err
	}

	return ctx.JSON(serverutils.SuccessResponse("Success enrich research items", res))
}

func (c *researchSessionController) Share(ctx *fiber.Ctx) error {
	owner, err := c.requireOwner(ctx)
	if err != nil {
		return err
	}

	var req dto.ShareResearchSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if req.Visibility == "" {
		req.Visibility = entity.ShareVisibilityUnlisted
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.service.Share(ctx.Context(), owner, ctx.Params("id"), req)
	if err != nil {
		return mapSessionError(err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(serverutils.SuccessResponse("Success share research session", res))
}

func (c *researchSessionController) ShowShare(ctx *fiber.Ctx) error {
	res, err := c.service.GetShare(ctx.Context(), ctx.Params("shareId"))
	if err != nil {
		return mapSessionError(err)
	}

	return ctx.JSON(serverutils.SuccessResponse("Success show research share", res))
}

// Analyze streams plain text. Quota and ownership are checked before the
// first byte so their errors still get a JSON body.
func (c *researchSessionController) Analyze(ctx *fiber.Ctx) error {
	owner, err := c.requireOwner(ctx)
	if err != nil {
		return err
	}

	var req dto.AnalyzeResearchSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	sessionId := ctx.Params("id")
	run, err := c.service.Analyze(ctx.Context(), owner, sessionId, req.Instructions)
	if err != nil {
		return mapSessionError(err)
	}

	ctx.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")

	// The fiber ctx is recycled once the handler returns, so the stream
	// gets its own context.
	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithTimeout(context.Background(), analysisTimeout)
		defer cancel()

		if err := run(streamCtx, flushWriter{w: w}); err != nil {
			c.logger.Warn("ResearchSession", "Analysis stream ended early", map[string]interface{}{
				"session_id": sessionId,
				"error":      err.Error(),
			})
		}
	})
	return nil
}

func (c *researchSessionController) owner(ctx *fiber.Ctx, clientId string) service.Owner {
	return service.Owner{ClientId: clientId, UserId: serverutils.UserId(ctx)}
}

// requireOwner reads clientId from the query string. Anonymous callers
// must send one.
func (c *researchSessionController) requireOwner(ctx *fiber.Ctx) (service.Owner, error) {
	owner := c.owner(ctx, ctx.Query("clientId"))
	if owner.Id() == "" {
		return owner, fiber.NewError(fiber.StatusBadRequest, "clientId is required")
	}
	return owner, nil
}

func mapSessionError(err error) error {
	switch {
	case errors.Is(err, contract.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Research session not found")
	case errors.Is(err, contract.ErrVersionMismatch):
		return fiber.NewError(fiber.StatusConflict, "Version mismatch: session was modified elsewhere")
	case errors.Is(err, service.ErrShareNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Research share not found")
	}
	return err
}

type flushWriter struct {
	w *bufio.Writer
}

func (f flushWriter) Write(p []byte) (int, error) {
	n, err := f.w.Write(p)
	if err != nil {
		return n, err
	}
	return n, f.w.Flush()
}
