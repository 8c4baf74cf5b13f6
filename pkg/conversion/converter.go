package conversion

import (
	"context"
	"strings"

	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"go.uber.org/zap"
)

// Converter moves resources between the versions of their definition
type Converter interface {
	// Convert returns obj at version. The storage version is always a valid target, any other
	// version must be served.
	Convert(ctx context.Context, def *definition.ResourceDefinition, obj *meta.Object, version string) (*meta.Object, error)
}

type converter struct {
	logger    *zap.Logger
	transport Transport
}

func NewConverter(logger *zap.Logger, transport Transport) Converter {
	return &converter{
		logger:    logger,
		transport: transport,
	}
}

func (c *converter) Convert(ctx context.Context, def *definition.ResourceDefinition, obj *meta.Object, version string) (*meta.Object, error) {
	target, ok := def.Version(version)
	if !ok || (!target.Served && !target.Storage) {
		return nil, problem.Newf(problem.VersionNotFound, "version %q of %s is not served", version, def.Key())
	}

	group, current := definition.SplitAPIVersion(obj.APIVersion)
	if group != def.Group {
		return nil, problem.Newf(problem.ConversionFailed, "resource apiVersion %q does not belong to %s", obj.APIVersion, def.Key())
	}

	if def.Conversion == nil || current == version {
		return obj, nil
	}

	desired := definition.JoinAPIVersion(def.Group, version)

	switch def.Conversion.Strategy {
	case definition.ConversionNone:
		out := meta.CopyObject(obj)
		out.APIVersion = desired
		return out, nil
	case definition.ConversionWebhook:
		return c.convertWithWebhook(ctx, def, obj, desired)
	default:
		return nil, problem.Newf(problem.ConversionFailed, "unknown conversion strategy %q", def.Conversion.Strategy)
	}
}

func (c *converter) convertWithWebhook(ctx context.Context, def *definition.ResourceDefinition, obj *meta.Object, desired string) (*meta.Object, error) {
	if def.Conversion.Webhook == nil || def.Conversion.Webhook.URI == "" {
		return nil, problem.Newf(problem.ConversionFailed, "definition %s has no conversion webhook", def.Key())
	}
	if c.transport == nil {
		return nil, problem.New(problem.ConversionFailed, "no conversion transport configured")
	}

	req, err := NewRequest(desired, obj)
	if err != nil {
		return nil, problem.New(problem.ConversionFailed, err.Error())
	}

	uri := def.Conversion.Webhook.URI
	logger := c.logger.With(
		zap.String("uid", req.UID),
		zap.String("uri", uri),
		zap.String("from", obj.APIVersion),
		zap.String("to", desired),
		zap.Object("resource", obj.Identity()))

	answered, err := c.transport.Convert(ctx, uri, NewReview(req))
	if err != nil {
		logger.Warn("Conversion webhook call failed", zap.Error(err))
		return nil, problem.Newf(problem.ConversionFailed, "conversion webhook %s: %v", uri, err)
	}
	if answered == nil || answered.Response == nil {
		return nil, problem.Newf(problem.ConversionFailed, "conversion webhook %s returned no response", uri)
	}

	resp := answered.Response
	if err := resp.Validate(req); err != nil {
		logger.Warn("Conversion webhook returned an invalid response", zap.Error(err))
		return nil, problem.New(problem.ConversionFailed, err.Error())
	}
	if !resp.Succeeded {
		detail := strings.Join(resp.Errors, "; ")
		if detail == "" {
			detail = "conversion webhook reported a failure"
		}
		logger.Debug("Conversion rejected", zap.Strings("errors", resp.Errors))
		return nil, problem.New(problem.ConversionFailed, detail)
	}

	logger.Debug("Resource converted")
	return resp.ConvertedResource, nil
}
