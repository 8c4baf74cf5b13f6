package types

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/tsamsiyu/themelio/pkg/types/definition"
)

// ResourceKey addresses the resources of one definition, optionally narrowed to a namespace
type ResourceKey struct {
	Group     string
	Plural    string
	Namespace string
}

func NewResourceKey(group, plural, namespace string) ResourceKey {
	return ResourceKey{
		Group:     group,
		Plural:    plural,
		Namespace: namespace,
	}
}

func NewResourceKeyFromDefinition(def *definition.ResourceDefinition, namespace string) ResourceKey {
	if !def.Namespaced() {
		namespace = ""
	}
	return NewResourceKey(def.Group, def.Names.Plural, namespace)
}

// ToKey returns the prefix shared by every object in the collection
func (k ResourceKey) ToKey() string {
	if k.Namespace == "" {
		return fmt.Sprintf("%s/%s/%s/", ResourcesPrefix, k.Group, k.Plural)
	}
	return fmt.Sprintf("%s/%s/%s/%s/", ResourcesPrefix, k.Group, k.Plural, k.Namespace)
}

func (k ResourceKey) String() string {
	return k.ToKey()
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (k ResourceKey) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("group", k.Group)
	enc.AddString("plural", k.Plural)
	enc.AddString("namespace", k.Namespace)
	return nil
}

// DefinitionKey addresses a stored resource definition
type DefinitionKey struct {
	Group  string
	Plural string
}

func NewDefinitionKey(group, plural string) DefinitionKey {
	return DefinitionKey{Group: group, Plural: plural}
}

// ToKey returns /definitions/{group}/{plural}
func (k DefinitionKey) ToKey() string {
	return fmt.Sprintf("%s%s/%s", DefinitionsPrefix, k.Group, k.Plural)
}

func (k DefinitionKey) String() string {
	return k.ToKey()
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (k DefinitionKey) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("group", k.Group)
	enc.AddString("plural", k.Plural)
	return nil
}
