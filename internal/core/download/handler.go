package download

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"downloader/internal/catalog"
	"downloader/internal/core/fetch"
	"downloader/internal/core/job"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

type createRequest struct {
	URL       string   `json:"url"`
	OutputDir string   `json:"output_dir"`
	Kind      job.Kind `json:"kind"`
	// MaxItems caps playlist downloads. Omitted means DefaultMaxItems,
	// explicit 0 means no cap.
	MaxItems *int `json:"max_items"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorResponse{Success: false, Error: msg})
}

func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var req createRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid body")
	}
	maxItems := DefaultMaxItems
	if req.MaxItems != nil {
		maxItems = *req.MaxItems
	}
	id, err := h.svc.Start(c.Context(), SubmitRequest{
		URL:       req.URL,
		OutputDir: req.OutputDir,
		KindHint:  req.Kind,
		MaxItems:  maxItems,
	})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return fail(c, fiber.StatusBadRequest, err.Error())
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "job_id": id})
}

func (h *Handler) HandleGet(c *fiber.Ctx) error {
	j, err := h.svc.Status(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "not_found")
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "job": j})
}

func (h *Handler) HandleCancel(c *fiber.Ctx) error {
	j, err := h.svc.Cancel(c.Context(), c.Params("jobId"))
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "not_found")
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "status": j.Status, "job": j})
}

func (h *Handler) HandleList(c *fiber.Ctx) error {
	jobs, err := h.svc.List(c.Context())
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "jobs": jobs})
}

func (h *Handler) HandleMetadata(c *fiber.Ctx) error {
	meta, err := h.svc.Metadata(c.Context(), c.Query("url"))
	if err != nil {
		switch {
		case errors.Is(err, ErrValidation):
			return fail(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, fetch.ErrUnresolvable):
			return fail(c, fiber.StatusBadGateway, "unresolvable source")
		default:
			return fail(c, fiber.StatusInternalServerError, err.Error())
		}
	}
	return c.JSON(fiber.Map{"success": true, "metadata": meta})
}
