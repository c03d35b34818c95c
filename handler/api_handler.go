package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/mohammadanang/scan-receiver/domain"
	"github.com/mohammadanang/scan-receiver/ingest"
	"github.com/valyala/fasthttp"
)

// RequestIDKey is the fiber local holding the request id.
const RequestIDKey = "requestid"

type Handler interface {
	UploadFile(c *fiber.Ctx) error
	Health(c *fiber.Ctx) error
}

// Recorder receives the outcome of every upload that reached the engine.
type Recorder interface {
	Observe(outcome domain.UploadOutcome)
}

type ApiHandler struct {
	engine   *ingest.Engine
	recorder Recorder
	logger   *slog.Logger
}

func NewAPIHandler(engine *ingest.Engine, recorder Recorder, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApiHandler{engine: engine, recorder: recorder, logger: logger}
}

func (h *ApiHandler) UploadFile(c *fiber.Ctx) error {
	if c.Method() != fiber.MethodPost {
		c.Set(fiber.HeaderAllow, fiber.MethodPost)
		return h.reject(c, fiber.StatusMethodNotAllowed,
			fmt.Errorf("method %s not allowed", c.Method()))
	}

	boundary, status, err := multipartBoundary(c.Get(fiber.HeaderContentType))
	if err != nil {
		return h.reject(c, status, err)
	}

	reqID := requestID(c)
	outcome := h.engine.Ingest(c.Context(), bodyStream(c.Context()), boundary, reqID)
	if h.recorder != nil {
		h.recorder.Observe(outcome)
	}

	resp := domain.UploadResponse{
		Count:     outcome.Count(),
		Files:     outcome.Files,
		RequestID: reqID,
	}
	if resp.Files == nil {
		resp.Files = []domain.StoredFile{}
	}

	if outcome.Err == nil {
		resp.Message = fmt.Sprintf("%d %s stored", outcome.Count(), plural(outcome.Count()))
		h.logger.Info("upload stored", "request_id", reqID, "files", outcome.Names())
		return c.Status(fiber.StatusOK).JSON(resp)
	}

	// The rest of the body was not consumed, so the connection cannot be reused.
	c.Context().SetConnectionClose()

	status = StatusFor(outcome.Err.Kind)
	resp.Error = true
	resp.Kind = outcome.Err.Kind
	resp.Part = outcome.Err.Part
	resp.Message = fmt.Sprintf("upload failed after %d %s stored", outcome.Count(), plural(outcome.Count()))
	if outcome.Err.Kind.ClientFault() {
		resp.Details = outcome.Err.Err.Error()
		h.logger.Warn("upload rejected", "request_id", reqID, "stored", outcome.Count(), "error", outcome.Err)
	} else {
		h.logger.Error("upload failed", "request_id", reqID, "stored", outcome.Count(), "error", outcome.Err)
	}
	return c.Status(status).JSON(resp)
}

func (h *ApiHandler) Health(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(domain.HealthResponse{Status: "ok"})
}

// reject answers a request that failed validation without reading its body.
func (h *ApiHandler) reject(c *fiber.Ctx, status int, err error) error {
	h.logger.Debug("request rejected", "status", status, "error", err)
	if h.recorder != nil {
		h.recorder.Observe(domain.UploadOutcome{Err: domain.NewError(domain.KindValidation, 0, err)})
	}
	c.Context().SetConnectionClose()
	return c.Status(status).JSON(domain.UploadResponse{
		Error:     true,
		Message:   "Invalid upload request",
		Kind:      domain.KindValidation,
		Details:   err.Error(),
		Files:     []domain.StoredFile{},
		RequestID: requestID(c),
	})
}

// StatusFor maps an error kind to the HTTP status reported to the client.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindParse, domain.KindDisconnect:
		return fiber.StatusBadRequest
	case domain.KindCanceled:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// multipartBoundary extracts the boundary from a multipart Content-Type.
// The returned status distinguishes a non-multipart body from a broken
// multipart header.
func multipartBoundary(contentType string) (string, int, error) {
	if contentType == "" {
		return "", fiber.StatusUnsupportedMediaType, errors.New("missing Content-Type, expecting multipart/form-data")
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "multipart/") {
			return "", fiber.StatusBadRequest, fmt.Errorf("invalid Content-Type: %w", err)
		}
		return "", fiber.StatusUnsupportedMediaType, fmt.Errorf("invalid Content-Type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return "", fiber.StatusUnsupportedMediaType, fmt.Errorf("expecting multipart/form-data, got %s", mediaType)
	}
	boundary := params["boundary"]
	if err := ingest.ValidateBoundary(boundary); err != nil {
		return "", fiber.StatusBadRequest, err
	}
	return boundary, 0, nil
}

// bodyStream returns the request body as a stream. With StreamRequestBody
// enabled fasthttp hands out a reader over the connection; otherwise the
// body is already buffered.
func bodyStream(ctx *fasthttp.RequestCtx) io.Reader {
	if s := ctx.RequestBodyStream(); s != nil {
		return s
	}
	return bytes.NewReader(ctx.Request.Body())
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals(RequestIDKey).(string); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	c.Locals(RequestIDKey, id)
	return id
}

func plural(n int) string {
	if n == 1 {
		return "file"
	}
	return "files"
}
