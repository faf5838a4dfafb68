package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/grouple/internal/middleware"
	"github.com/example/grouple/internal/models"
	"github.com/example/grouple/internal/services"
	"github.com/example/grouple/internal/utils"
)

// GroupHandler manages group endpoints.
type GroupHandler struct {
	groups *services.GroupService
}

func NewGroupHandler(groups *services.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

type createGroupRequest struct {
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// CreateGroup persists a group with its default channel.
func (h *GroupHandler) CreateGroup(c *fiber.Ctx) error {
	var req createGroupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid request body"})
	}

	if req.UserID == "" || req.Name == "" || req.Category == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "missing required fields"})
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"message": "invalid user id"})
	}

	group, err := h.groups.CreateGroup(c.Context(), userID, req.Name, req.Category)
	if err != nil {
		return writePaymentError(c, err)
	}

	return c.JSON(fiber.Map{"group": groupResponse(group)})
}

// GetGroup returns a single group with its channels.
func (h *GroupHandler) GetGroup(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid group id")
	}

	group, err := h.groups.GetGroup(c.Context(), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "group not found")
		}
		return writePaymentError(c, err)
	}

	return c.JSON(fiber.Map{"group": group})
}

// ListGroups returns the authenticated user's groups.
func (h *GroupHandler) ListGroups(c *fiber.Ctx) error {
	userID, ok := middleware.GetCurrentUserID(c)
	if !ok {
		return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
	}

	pg := utils.ParsePagination(c)
	groups, total, err := h.groups.ListGroupsByUser(c.Context(), userID, pg.Limit, pg.Offset)
	if err != nil {
		return writePaymentError(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    groups,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// groupResponse shapes a group the way the creation endpoints return it.
func groupResponse(group *models.Group) fiber.Map {
	channels := make([]fiber.Map, 0, len(group.Channels))
	for _, ch := range group.Channels {
		channels = append(channels, fiber.Map{"id": ch.ID, "name": ch.Name})
	}
	return fiber.Map{
		"id":       group.ID,
		"name":     group.Name,
		"category": group.Category,
		"channels": channels,
	}
}
