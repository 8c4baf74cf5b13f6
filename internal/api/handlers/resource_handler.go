package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/service"
)

type ResourceHandler struct {
	logger          *zap.Logger
	resourceService service.ResourceService
	watchHandler    *WatchHandler
	validator       *validator.Validate
}

func NewResourceHandler(
	logger *zap.Logger,
	resourceService service.ResourceService,
	watchHandler *WatchHandler,
	validator *validator.Validate,
) *ResourceHandler {
	return &ResourceHandler{
		logger:          logger,
		resourceService: resourceService,
		watchHandler:    watchHandler,
		validator:       validator,
	}
}

func (h *ResourceHandler) CreateResource(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	data, err := readBody(c)
	if err != nil {
		c.Error(err)
		return
	}

	created, err := h.resourceService.Create(c.Request.Context(), req.params, data, req.writeOptions(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

// GetResource answers with the object, or streams its changes with ?watch=true
func (h *ResourceHandler) GetResource(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	if req.query.Watch {
		h.watchHandler.WatchObject(c, req)
		return
	}

	resource, err := h.resourceService.Get(c.Request.Context(), req.params)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resource)
}

// ListResources answers with the collection, or streams its changes with ?watch=true
func (h *ResourceHandler) ListResources(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	if req.query.Watch {
		h.watchHandler.WatchCollection(c, req)
		return
	}

	list, err := h.resourceService.List(c.Request.Context(), req.params, req.selectors)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, list)
}

func (h *ResourceHandler) ReplaceResource(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	data, err := readBody(c)
	if err != nil {
		c.Error(err)
		return
	}

	replaced, err := h.resourceService.Replace(c.Request.Context(), req.params, data, req.writeOptions(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, replaced)
}

func (h *ResourceHandler) PatchResource(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	patch, err := readBody(c)
	if err != nil {
		c.Error(err)
		return
	}

	patched, err := h.resourceService.Patch(c.Request.Context(), req.params, patch, req.writeOptions(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, patched)
}

func (h *ResourceHandler) PatchSubResource(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	subResource := c.Param("subresource")
	if subResource == "" {
		c.Error(internalerrors.NewInvalidInputError("sub-resource cannot be empty"))
		return
	}

	patch, err := readBody(c)
	if err != nil {
		c.Error(err)
		return
	}

	patched, err := h.resourceService.PatchSubResource(c.Request.Context(), req.params, subResource, patch, req.writeOptions(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, patched)
}

// DeleteResource removes the object. ?resourceVersion= makes the delete conditional.
func (h *ResourceHandler) DeleteResource(c *gin.Context) {
	req, err := bindResourceRequest(c, h.validator)
	if err != nil {
		c.Error(err)
		return
	}

	deleted, err := h.resourceService.Delete(c.Request.Context(), req.params, req.query.ResourceVersion, req.writeOptions(c))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, deleted)
}
