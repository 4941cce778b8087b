package admin

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/maaaruch/tg-nomination-bot/internal/cache"
	"github.com/maaaruch/tg-nomination-bot/internal/domain"
	"github.com/maaaruch/tg-nomination-bot/internal/storage"
)

// Handler — JSON-API админки: управление номинациями, участниками,
// просмотр пользователей и голосов. Пишет в хранилище напрямую, в обход
// сервиса голосования, поэтому после своих мутаций сбрасывает кэш списка
// номинаций.
type Handler struct {
	store  *storage.Store
	cache  *cache.Cache
	logger *slog.Logger
}

func NewHandler(store *storage.Store, c *cache.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, cache: c, logger: logger}
}

func SetupRoutes(app *fiber.App, h *Handler) {
	api := app.Group("/api")

	api.Get("/nominations", h.ListNominations)
	api.Post("/nominations", h.CreateNomination)
	api.Get("/nominations/:id", h.GetNomination)
	api.Patch("/nominations/:id", h.UpdateNomination)
	api.Delete("/nominations/:id", h.DeleteNomination)

	api.Post("/nominations/:id/participants", h.AddParticipant)
	api.Patch("/nominations/:id/participants", h.RenameParticipant)
	api.Delete("/nominations/:id/participants/:name", h.DeleteParticipant)

	api.Get("/nominations/:id/votes", h.ListVotes)
	api.Get("/nominations/:id/results", h.Results)
	api.Post("/nominations/:id/reconcile", h.Reconcile)

	api.Get("/users", h.ListUsers)
}

func nominationID(c *fiber.Ctx) (int64, error) {
	return strconv.ParseInt(c.Params("id"), 10, 64)
}

func (h *Handler) storeError(c *fiber.Ctx, op string, err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	case errors.Is(err, storage.ErrConflict):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict"})
	default:
		h.logger.Error("админка: ошибка хранилища", "op", op, "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "storage error"})
	}
}

func (h *Handler) invalidate(ctx context.Context) {
	h.cache.InvalidateNominations(ctx)
}

// ---------- Nominations ----------

func (h *Handler) ListNominations(c *fiber.Ctx) error {
	noms, err := h.store.ListNominations(c.Context())
	if err != nil {
		return h.storeError(c, "list nominations", err)
	}
	return c.JSON(noms)
}

type createNominationRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *Handler) CreateNomination(c *fiber.Ctx) error {
	var req createNominationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
	}

	id, err := h.store.CreateNomination(c.Context(), req.Title, req.Description)
	if err != nil {
		return h.storeError(c, "create nomination", err)
	}
	h.invalidate(c.Context())

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *Handler) GetNomination(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	nom, err := h.store.GetNomination(c.Context(), id)
	if err != nil {
		return h.storeError(c, "get nomination", err)
	}
	return c.JSON(nom)
}

type updateNominationRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func (h *Handler) UpdateNomination(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	var req updateNominationRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}

	nom, err := h.store.GetNomination(c.Context(), id)
	if err != nil {
		return h.storeError(c, "update nomination", err)
	}

	if req.Title != nil || req.Description != nil {
		title := nom.Title
		description := nom.Description
		if req.Title != nil {
			title = *req.Title
		}
		if req.Description != nil {
			description = *req.Description
		}
		if err := h.store.UpdateNomination(c.Context(), id, title, description); err != nil {
			return h.storeError(c, "update nomination", err)
		}
	}

	if req.IsActive != nil {
		if err := h.store.SetNominationActive(c.Context(), id, *req.IsActive); err != nil {
			return h.storeError(c, "toggle nomination", err)
		}
	}

	h.invalidate(c.Context())

	updated, err := h.store.GetNomination(c.Context(), id)
	if err != nil {
		return h.storeError(c, "reload nomination", err)
	}
	return c.JSON(updated)
}

func (h *Handler) DeleteNomination(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	deleted, err := h.store.DeleteNomination(c.Context(), id)
	if err != nil {
		return h.storeError(c, "delete nomination", err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	h.invalidate(c.Context())

	return c.SendStatus(fiber.StatusNoContent)
}

// ---------- Participants ----------

type addParticipantRequest struct {
	Name string `json:"name"`
}

func (h *Handler) AddParticipant(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	var req addParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}

	pid, err := h.store.AddParticipant(c.Context(), id, req.Name)
	if err != nil {
		return h.storeError(c, "add participant", err)
	}
	h.invalidate(c.Context())

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": pid})
}

type renameParticipantRequest struct {
	OldName string `json:"old_name"`
	NewName string `json:"new_name"`
}

func (h *Handler) RenameParticipant(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	var req renameParticipantRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid json"})
	}
	if req.OldName == "" || req.NewName == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "old_name and new_name are required"})
	}

	if err := h.store.RenameParticipant(c.Context(), id, req.OldName, req.NewName); err != nil {
		return h.storeError(c, "rename participant", err)
	}
	h.invalidate(c.Context())

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) DeleteParticipant(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}
	name := c.Params("name")

	deleted, err := h.store.DeleteParticipant(c.Context(), id, name)
	if err != nil {
		return h.storeError(c, "delete participant", err)
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
	}
	h.invalidate(c.Context())

	return c.SendStatus(fiber.StatusNoContent)
}

// ---------- Votes / Results / Users ----------

func (h *Handler) ListVotes(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	votes, err := h.store.ListVotesByNomination(c.Context(), id)
	if err != nil {
		return h.storeError(c, "list votes", err)
	}
	if votes == nil {
		votes = []domain.Vote{}
	}
	return c.JSON(votes)
}

func (h *Handler) Results(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	results, err := h.store.ResultsByNomination(c.Context(), id)
	if err != nil {
		return h.storeError(c, "results", err)
	}
	if results == nil {
		results = []domain.ParticipantResult{}
	}
	return c.JSON(results)
}

// Reconcile пересчитывает счётчики по записям votes — ремонт на случай,
// когда данные меняли в обход хранилища и сумма счётчиков разошлась.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	id, err := nominationID(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid id"})
	}

	if err := h.store.ReconcileNomination(c.Context(), id); err != nil {
		return h.storeError(c, "reconcile", err)
	}
	h.invalidate(c.Context())
	h.logger.Info("счётчики пересчитаны", "nomination_id", id)

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) ListUsers(c *fiber.Ctx) error {
	users, err := h.store.ListUsers(c.Context())
	if err != nil {
		return h.storeError(c, "list users", err)
	}
	if users == nil {
		users = []domain.User{}
	}
	return c.JSON(users)
}
