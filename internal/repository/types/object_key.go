package types

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"

	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

// ObjectKey addresses one stored resource. Resources are stored once, at the storage version, so
// the key carries no version.
type ObjectKey struct {
	Group     string
	Plural    string
	Namespace string
	Name      string
}

func NewClusterObjectKey(group, plural, name string) ObjectKey {
	return ObjectKey{
		Group:  group,
		Plural: plural,
		Name:   name,
	}
}

func NewNamespacedObjectKey(group, plural, namespace, name string) ObjectKey {
	return ObjectKey{
		Group:     group,
		Plural:    plural,
		Namespace: namespace,
		Name:      name,
	}
}

// NewObjectKeyFromReference drops the version of ref
func NewObjectKeyFromReference(ref meta.ResourceReference) ObjectKey {
	return ObjectKey{
		Group:     ref.Definition.Group,
		Plural:    ref.Definition.Plural,
		Namespace: ref.Namespace,
		Name:      ref.Name,
	}
}

func NewObjectKeyFromResource(def *definition.ResourceDefinition, obj *meta.Object) ObjectKey {
	id := obj.Identity()
	return ObjectKey{
		Group:     def.Group,
		Plural:    def.Names.Plural,
		Namespace: id.Namespace,
		Name:      id.Name,
	}
}

func (k ObjectKey) Identity() meta.Identity {
	return meta.Identity{Name: k.Name, Namespace: k.Namespace}
}

// ResourceKey returns the collection the object belongs to
func (k ObjectKey) ResourceKey() ResourceKey {
	return ResourceKey{
		Group:     k.Group,
		Plural:    k.Plural,
		Namespace: k.Namespace,
	}
}

// ToKey returns /resources/{group}/{plural}/[{namespace}/]{name}
func (k ObjectKey) ToKey() string {
	if k.Namespace == "" {
		return fmt.Sprintf("%s/%s/%s/%s", ResourcesPrefix, k.Group, k.Plural, k.Name)
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s", ResourcesPrefix, k.Group, k.Plural, k.Namespace, k.Name)
}

func (k ObjectKey) String() string {
	return k.ToKey()
}

// ParseObjectKey parses a key produced by ToKey
func ParseObjectKey(key string) (ObjectKey, error) {
	rest, ok := strings.CutPrefix(key, ResourcesPrefix+"/")
	if !ok {
		return ObjectKey{}, fmt.Errorf("invalid object key %q: missing %s prefix", key, ResourcesPrefix)
	}
	parts := strings.Split(rest, "/")

	switch len(parts) {
	case 3:
		if parts[1] == "" || parts[2] == "" {
			break
		}
		return NewClusterObjectKey(parts[0], parts[1], parts[2]), nil
	case 4:
		if parts[1] == "" || parts[2] == "" || parts[3] == "" {
			break
		}
		return NewNamespacedObjectKey(parts[0], parts[1], parts[2], parts[3]), nil
	}
	return ObjectKey{}, fmt.Errorf("invalid object key %q: expected 3 or 4 segments after %s", key, ResourcesPrefix)
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (k ObjectKey) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("group", k.Group)
	enc.AddString("plural", k.Plural)
	if k.Namespace != "" {
		enc.AddString("namespace", k.Namespace)
	}
	enc.AddString("name", k.Name)
	return nil
}
