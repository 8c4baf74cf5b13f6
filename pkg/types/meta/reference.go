package meta

import (
	"fmt"

	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"go.uber.org/zap/zapcore"
)

// ResourceReference points at one resource of a given type and version
type ResourceReference struct {
	Definition definition.Reference `json:"definition"`
	Name       string               `json:"name"`
	Namespace  string               `json:"namespace,omitempty"`
}

// NewResourceReference builds a reference to a resource of def at version. The namespace is
// required for namespaced definitions and rejected for cluster scoped ones.
func NewResourceReference(conv *naming.Convention, def *definition.ResourceDefinition, version, name, namespace string) (ResourceReference, error) {
	ref, ok := def.ReferenceFor(version)
	if !ok {
		return ResourceReference{}, fmt.Errorf("definition %s has no version %q", def.Key(), version)
	}
	if err := conv.CheckName(name); err != nil {
		return ResourceReference{}, err
	}
	if err := checkScope(conv, def, namespace); err != nil {
		return ResourceReference{}, err
	}
	return ResourceReference{Definition: ref, Name: name, Namespace: namespace}, nil
}

func checkScope(conv *naming.Convention, def *definition.ResourceDefinition, namespace string) error {
	if def.Namespaced() {
		if namespace == "" {
			return fmt.Errorf("namespace is required for namespaced resources of %s", def.Key())
		}
		return conv.CheckName(namespace)
	}
	if namespace != "" {
		return fmt.Errorf("namespace must be empty for cluster scoped resources of %s", def.Key())
	}
	return nil
}

// CheckScope verifies the namespace of an identity fits the scope of def
func CheckScope(conv *naming.Convention, def *definition.ResourceDefinition, id Identity) error {
	return checkScope(conv, def, id.Namespace)
}

// ReferenceTo builds the reference of an existing object under definition reference ref
func ReferenceTo(ref definition.Reference, obj *Object) ResourceReference {
	return ResourceReference{
		Definition: ref,
		Name:       obj.Metadata.Name,
		Namespace:  obj.Metadata.Namespace,
	}
}

func (r ResourceReference) Identity() Identity {
	return Identity{Name: r.Name, Namespace: r.Namespace}
}

func (r ResourceReference) String() string {
	return r.Definition.String() + "/" + r.Identity().String()
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (r ResourceReference) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	if err := enc.AddObject("definition", r.Definition); err != nil {
		return err
	}
	enc.AddString("name", r.Name)
	if r.Namespace != "" {
		enc.AddString("namespace", r.Namespace)
	}
	return nil
}

// SubResourceReference points at a sub-resource such as status of one resource
type SubResourceReference struct {
	ResourceReference `json:",inline"`
	SubResource       string `json:"subResource"`
}

// NewSubResourceReference builds a sub-resource reference and checks the definition version declares it
func NewSubResourceReference(def *definition.ResourceDefinition, ref ResourceReference, subResource string) (SubResourceReference, error) {
	version, ok := def.Version(ref.Definition.Version)
	if !ok {
		return SubResourceReference{}, fmt.Errorf("definition %s has no version %q", def.Key(), ref.Definition.Version)
	}
	if _, ok := version.SubResource(subResource); !ok {
		return SubResourceReference{}, fmt.Errorf("version %s of %s has no sub-resource %q", version.Name, def.Key(), subResource)
	}
	return SubResourceReference{ResourceReference: ref, SubResource: subResource}, nil
}

func (r SubResourceReference) String() string {
	return r.ResourceReference.String() + "/" + r.SubResource
}
