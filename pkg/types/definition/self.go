package definition

import (
	_ "embed"

	"github.com/pkg/errors"
	"github.com/tsamsiyu/themelio/pkg/naming"
	"sigs.k8s.io/yaml"
)

//go:embed self.yaml
var selfDocument []byte

const (
	SelfGroup  = "themelio.io"
	SelfPlural = "resourcedefinitions"
	SelfKind   = "ResourceDefinition"
)

// Self returns the definition that describes resource definitions themselves
func Self(conv *naming.Convention) (*ResourceDefinition, error) {
	def := &ResourceDefinition{}
	if err := yaml.Unmarshal(selfDocument, def); err != nil {
		return nil, errors.Wrap(err, "failed to decode built-in resource definition")
	}
	if errs := def.Validate(conv); len(errs) > 0 {
		return nil, errors.Wrap(errs.ToAggregate(), "built-in resource definition is invalid")
	}
	return def, nil
}

// Load decodes a YAML or JSON document into a definition and validates it
func Load(conv *naming.Convention, data []byte) (*ResourceDefinition, error) {
	def := &ResourceDefinition{}
	if err := yaml.UnmarshalStrict(data, def); err != nil {
		return nil, errors.Wrap(err, "failed to decode resource definition")
	}
	if errs := def.Validate(conv); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	return def, nil
}
