package syncer

import (
	"errors"

	"record-sync/core/assets"
	"record-sync/core/changefeed"
	"record-sync/core/connectivity"
	"record-sync/core/localstore"
	"record-sync/core/logger"
	"record-sync/core/reconcile"
	"record-sync/core/record"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the sync engine.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	// Force import for Swagger
	var _ = changefeed.Stats{}
	return &Handler{service: service}
}

// RegisterRoutes registers the sync and object routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/sync")
	group.Get("/status", h.HandleStatus)
	group.Get("/events", h.HandleEvents)
	group.Post("/connect", h.HandleConnect)
	group.Post("/pull", h.HandlePull)
	group.Post("/resync/:zone/:type", h.HandleResync)
	group.Post("/resume", h.HandleResume)

	objects := app.Group("/objects")
	objects.Post("/:scope/:type/:zone", h.HandleCreate)
	objects.Get("/:scope/:type/:zone/:name", h.HandleGet)
	objects.Put("/:scope/:type/:zone/:name", h.HandleUpdate)
	objects.Delete("/:scope/:type/:zone/:name", h.HandleDelete)
	objects.Get("/:scope/:type/:zone/:name/assets/:field", h.HandleAsset)
}

// HandleStatus reports connectivity, scheduler and retry state.
// @Summary Sync Status
// @Description Reports connectivity, scheduler state, pending retries and the number of objects in progress.
// @Tags sync
// @Produce json
// @Success 200 {object} Status
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /sync/status [get]
func (h *Handler) HandleStatus(c *fiber.Ctx) error {
	st, err := h.service.Status(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

// HandleEvents lists the most recent engine events.
// @Summary Recent Events
// @Description Lists the most recent connectivity, sync pass and pull events.
// @Tags sync
// @Produce json
// @Success 200 {object} map[string]interface{} "Events"
// @Router /sync/events [get]
func (h *Handler) HandleEvents(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"events": h.service.Events()})
}

// HandleConnect signs in to the remote account.
// @Summary Connect
// @Description Checks the remote account and creates the configured zones.
// @Tags sync
// @Produce json
// @Success 200 {object} map[string]interface{} "Connectivity"
// @Failure 503 {object} map[string]interface{} "Not connected"
// @Router /sync/connect [post]
func (h *Handler) HandleConnect(c *fiber.Ctx) error {
	if err := h.service.Connect(c.Context()); err != nil {
		logger.WithRayID(h.service.logger, c).Warn("Connect failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error":        err.Error(),
			"connectivity": h.service.deps.Tracker.Current(),
		})
	}
	return c.JSON(fiber.Map{"connectivity": h.service.deps.Tracker.Current()})
}

// HandlePull pulls the zone given in the query, or every configured zone.
// @Summary Pull Changes
// @Description Applies the remote change feed of one zone, or of every configured zone when no zone is given.
// @Tags sync
// @Produce json
// @Param zone query string false "Zone name"
// @Success 200 {object} map[string]interface{} "Pull statistics per zone"
// @Failure 503 {object} map[string]string "Not connected"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /sync/pull [post]
func (h *Handler) HandlePull(c *fiber.Ctx) error {
	stats, err := h.service.Pull(c.Context(), c.Query("zone"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"zones": stats})
}

// HandleResync rebuilds one type of a zone from a full remote query.
// @Summary Resync Type
// @Description Replaces the local objects of one type in a zone with the result of a full remote query.
// @Tags sync
// @Produce json
// @Param zone path string true "Zone name"
// @Param type path string true "Record type"
// @Success 200 {object} changefeed.Stats
// @Failure 503 {object} map[string]string "Not connected"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /sync/resync/{zone}/{type} [post]
func (h *Handler) HandleResync(c *fiber.Ctx) error {
	st, err := h.service.Resync(c.Context(), c.Params("zone"), c.Params("type"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(st)
}

// HandleResume queues objects left in progress by an earlier run.
// @Summary Resume Interrupted Sync
// @Description Queues every object whose sync started but never finished.
// @Tags sync
// @Produce json
// @Success 200 {object} map[string]int "Resumed objects"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /sync/resume [post]
func (h *Handler) HandleResume(c *fiber.Ctx) error {
	n, err := h.service.Resume(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"resumed": n})
}

// HandleGet returns a local object.
// @Summary Get Object
// @Tags objects
// @Produce json
// @Param scope path string true "Scope (private or shared)"
// @Param type path string true "Record type"
// @Param zone path string true "Zone name"
// @Param name path string true "Record name"
// @Success 200 {object} localstore.Object
// @Failure 404 {object} map[string]string "Not Found"
// @Router /objects/{scope}/{type}/{zone}/{name} [get]
func (h *Handler) HandleGet(c *fiber.Ctx) error {
	obj, err := h.service.Get(c.Context(), objectRef(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(obj)
}

// HandleCreate creates an object. Pass wait=true to wait for its upload.
// @Summary Create Object
// @Description Stores a new local object and schedules its upload.
// @Tags objects
// @Accept json
// @Produce json
// @Param scope path string true "Scope (private or shared)"
// @Param type path string true "Record type"
// @Param zone path string true "Zone name"
// @Param wait query bool false "Wait for the sync pass"
// @Param object body ObjectInput true "Object"
// @Success 201 {object} map[string]interface{} "Object and pass outcomes"
// @Failure 400 {object} map[string]string "Bad Request"
// @Failure 404 {object} map[string]string "Parent not found"
// @Router /objects/{scope}/{type}/{zone} [post]
func (h *Handler) HandleCreate(c *fiber.Ctx) error {
	var in ObjectInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	obj, res, err := h.service.Create(c.Context(), record.Scope(c.Params("scope")), c.Params("type"), c.Params("zone"), in, c.QueryBool("wait"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(writeResponse(obj, res))
}

// HandleUpdate merges fields into an object. Pass wait=true to wait for its
// upload.
// @Summary Update Object
// @Description Merges fields into an object and schedules its upload. Null values remove fields.
// @Tags objects
// @Accept json
// @Produce json
// @Param scope path string true "Scope (private or shared)"
// @Param type path string true "Record type"
// @Param zone path string true "Zone name"
// @Param name path string true "Record name"
// @Param wait query bool false "Wait for the sync pass"
// @Param object body ObjectInput true "Changes"
// @Success 200 {object} map[string]interface{} "Object and pass outcomes"
// @Failure 400 {object} map[string]string "Bad Request"
// @Failure 404 {object} map[string]string "Not Found"
// @Router /objects/{scope}/{type}/{zone}/{name} [put]
func (h *Handler) HandleUpdate(c *fiber.Ctx) error {
	var in ObjectInput
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	obj, res, err := h.service.Update(c.Context(), objectRef(c), in, c.QueryBool("wait"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(writeResponse(obj, res))
}

// HandleDelete removes an object and its descendants.
// @Summary Delete Object
// @Description Deletes an object and all of its descendants remotely and locally.
// @Tags objects
// @Produce json
// @Param scope path string true "Scope (private or shared)"
// @Param type path string true "Record type"
// @Param zone path string true "Zone name"
// @Param name path string true "Record name"
// @Success 200 {object} map[string]interface{} "Deleted ids"
// @Failure 404 {object} map[string]string "Not Found"
// @Failure 503 {object} map[string]string "Not connected"
// @Router /objects/{scope}/{type}/{zone}/{name} [delete]
func (h *Handler) HandleDelete(c *fiber.Ctx) error {
	ids, err := h.service.Delete(c.Context(), objectRef(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"deleted": ids})
}

// HandleAsset streams the stored content of an asset field.
// @Summary Download Asset
// @Tags objects
// @Produce octet-stream
// @Param scope path string true "Scope (private or shared)"
// @Param type path string true "Record type"
// @Param zone path string true "Zone name"
// @Param name path string true "Record name"
// @Param field path string true "Asset field"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string "Not an asset field"
// @Failure 503 {object} map[string]string "Storage disabled"
// @Router /objects/{scope}/{type}/{zone}/{name}/assets/{field} [get]
func (h *Handler) HandleAsset(c *fiber.Ctx) error {
	rc, err := h.service.OpenAsset(c.Context(), objectRef(c), c.Params("field"))
	if err != nil {
		return h.fail(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	return c.SendStream(rc)
}

func objectRef(c *fiber.Ctx) localstore.Ref {
	return localstore.Ref{
		Scope: record.Scope(c.Params("scope")),
		Type:  c.Params("type"),
		ID:    record.ID{Zone: c.Params("zone"), Name: c.Params("name")},
	}
}

func writeResponse(obj *localstore.Object, res *reconcile.Result) fiber.Map {
	out := fiber.Map{"object": obj}
	if res != nil {
		out["pass"] = res.Pass
		out["outcomes"] = res.Outcomes
	}
	return out
}

// fail maps engine errors to HTTP statuses.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	var unavailable *connectivity.UnavailableError
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, ErrInvalid):
		status = fiber.StatusBadRequest
	case errors.Is(err, reconcile.ErrClosed), errors.Is(err, assets.ErrStorageDisabled), errors.As(err, &unavailable):
		status = fiber.StatusServiceUnavailable
	}
	if status == fiber.StatusInternalServerError {
		logger.WithRayID(h.service.logger, c).Error("Request failed", zap.Error(err))
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}
