package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	apierrors "github.com/tsamsiyu/themelio/internal/api/errors"
	"github.com/tsamsiyu/themelio/internal/service"
	"github.com/tsamsiyu/themelio/pkg/admission"
	"github.com/tsamsiyu/themelio/pkg/labels"
)

const (
	// UserHeader and GroupsHeader carry the identity forwarded by an authenticating proxy
	UserHeader   = "X-Remote-User"
	GroupsHeader = "X-Remote-Groups"
)

type resourcePath struct {
	Group   string `uri:"group" validate:"required,rgroup"`
	Version string `uri:"version" validate:"required,rversion"`
	Plural  string `uri:"plural" validate:"required,rplural"`
	Name    string `uri:"name" validate:"omitempty,rname"`
}

type resourceQuery struct {
	Namespace       string `form:"namespace" validate:"omitempty,rname"`
	LabelSelector   string `form:"labelSelector"`
	ResourceVersion string `form:"resourceVersion" validate:"omitempty,numeric"`
	DryRun          bool   `form:"dryRun"`
	Watch           bool   `form:"watch"`
}

type resourceRequest struct {
	params    service.Params
	query     resourceQuery
	selectors labels.Selectors
}

func bindResourceRequest(c *gin.Context, v *validator.Validate) (*resourceRequest, error) {
	var path resourcePath
	if err := c.ShouldBindUri(&path); err != nil {
		return nil, apierrors.NewSerializationError("binding path parameters", err)
	}
	var query resourceQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		return nil, apierrors.NewSerializationError("binding query parameters", err)
	}
	if err := v.Struct(&path); err != nil {
		return nil, err
	}
	if err := v.Struct(&query); err != nil {
		return nil, err
	}

	selectors, err := labels.ParseList(query.LabelSelector)
	if err != nil {
		return nil, err
	}

	return &resourceRequest{
		params: service.Params{
			Group:     path.Group,
			Version:   path.Version,
			Plural:    path.Plural,
			Namespace: query.Namespace,
			Name:      path.Name,
		},
		query:     query,
		selectors: selectors,
	}, nil
}

func (r *resourceRequest) writeOptions(c *gin.Context) service.WriteOptions {
	return service.WriteOptions{
		DryRun: r.query.DryRun,
		User:   userInfo(c),
	}
}

func userInfo(c *gin.Context) *admission.UserInfo {
	username := c.GetHeader(UserHeader)
	if username == "" {
		return nil
	}

	var groups []string
	for _, group := range strings.Split(c.GetHeader(GroupsHeader), ",") {
		if group = strings.TrimSpace(group); group != "" {
			groups = append(groups, group)
		}
	}
	return &admission.UserInfo{Username: username, Groups: groups}
}

func readBody(c *gin.Context) ([]byte, error) {
	data, err := c.GetRawData()
	if err != nil {
		return nil, apierrors.NewSerializationError("reading request body", err)
	}
	return data, nil
}
