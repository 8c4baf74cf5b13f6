package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	apierrors "github.com/tsamsiyu/themelio/internal/api/errors"
	"github.com/tsamsiyu/themelio/internal/service"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
)

type definitionPath struct {
	Group  string `uri:"group" validate:"required,rgroup"`
	Plural string `uri:"plural" validate:"required,rplural"`
}

// DefinitionList is the body of a definition listing
type DefinitionList struct {
	Items []*definition.ResourceDefinition `json:"items"`
	Total int                              `json:"total"`
}

type DefinitionHandler struct {
	logger            *zap.Logger
	definitionService service.DefinitionService
	validator         *validator.Validate
}

func NewDefinitionHandler(
	logger *zap.Logger,
	definitionService service.DefinitionService,
	validator *validator.Validate,
) *DefinitionHandler {
	return &DefinitionHandler{
		logger:            logger,
		definitionService: definitionService,
		validator:         validator,
	}
}

func (h *DefinitionHandler) CreateDefinition(c *gin.Context) {
	data, err := readBody(c)
	if err != nil {
		c.Error(err)
		return
	}

	def, err := h.definitionService.Create(c.Request.Context(), data)
	if err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("Resource definition created", zap.Object("definition", def))
	c.JSON(http.StatusCreated, def)
}

func (h *DefinitionHandler) ListDefinitions(c *gin.Context) {
	defs := h.definitionService.List(c.Request.Context())
	c.JSON(http.StatusOK, DefinitionList{Items: defs, Total: len(defs)})
}

func (h *DefinitionHandler) GetDefinition(c *gin.Context) {
	path, err := h.bindPath(c)
	if err != nil {
		c.Error(err)
		return
	}

	def, err := h.definitionService.Get(c.Request.Context(), path.Group, path.Plural)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, def)
}

func (h *DefinitionHandler) ReplaceDefinition(c *gin.Context) {
	path, err := h.bindPath(c)
	if err != nil {
		c.Error(err)
		return
	}

	data, err := readBody(c)
	if err != nil {
		c.Error(err)
		return
	}

	def, err := h.definitionService.Replace(c.Request.Context(), path.Group, path.Plural, data)
	if err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("Resource definition replaced", zap.Object("definition", def))
	c.JSON(http.StatusOK, def)
}

func (h *DefinitionHandler) DeleteDefinition(c *gin.Context) {
	path, err := h.bindPath(c)
	if err != nil {
		c.Error(err)
		return
	}

	if err := h.definitionService.Delete(c.Request.Context(), path.Group, path.Plural); err != nil {
		c.Error(err)
		return
	}

	h.logger.Info("Resource definition deleted",
		zap.String("group", path.Group),
		zap.String("plural", path.Plural))
	c.Status(http.StatusNoContent)
}

func (h *DefinitionHandler) bindPath(c *gin.Context) (*definitionPath, error) {
	var path definitionPath
	if err := c.ShouldBindUri(&path); err != nil {
		return nil, apierrors.NewSerializationError("binding path parameters", err)
	}
	if err := h.validator.Struct(&path); err != nil {
		return nil, err
	}
	return &path, nil
}
