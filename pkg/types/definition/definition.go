package definition

import (
	"fmt"
	"net/url"

	"github.com/tsamsiyu/themelio/pkg/naming"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"go.uber.org/zap/zapcore"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

type Scope string

const (
	ScopeCluster    Scope = "Cluster"
	ScopeNamespaced Scope = "Namespaced"
)

type Names struct {
	Singular   string   `json:"singular"`
	Plural     string   `json:"plural"`
	Kind       string   `json:"kind"`
	ShortNames []string `json:"shortNames,omitempty"`
}

type Version struct {
	Name    string                           `json:"name"`
	Schema  *apiextensionsv1.JSONSchemaProps `json:"schema"`
	Served  bool                             `json:"served"`
	Storage bool                             `json:"storage"`
	// SubResources maps a sub-resource name such as "status" to the schema of that field
	SubResources map[string]*apiextensionsv1.JSONSchemaProps `json:"subResources,omitempty"`
}

// SubResource returns the schema of the named sub-resource
func (v *Version) SubResource(name string) (*apiextensionsv1.JSONSchemaProps, bool) {
	schema, ok := v.SubResources[name]
	return schema, ok
}

type ConversionStrategy string

const (
	ConversionNone    ConversionStrategy = "None"
	ConversionWebhook ConversionStrategy = "Webhook"
)

type WebhookClientConfig struct {
	URI string `json:"uri"`
}

type Conversion struct {
	Strategy ConversionStrategy   `json:"strategy"`
	Webhook  *WebhookClientConfig `json:"webhook,omitempty"`
}

// ResourceDefinition describes a resource type. Versions are ordered from oldest to newest.
type ResourceDefinition struct {
	Scope      Scope       `json:"scope"`
	Group      string      `json:"group,omitempty"`
	Names      Names       `json:"names"`
	Versions   []Version   `json:"versions"`
	Conversion *Conversion `json:"conversion,omitempty"`
}

// New creates a ResourceDefinition and validates it against the naming convention
func New(conv *naming.Convention, scope Scope, group string, names Names, versions []Version, conversion *Conversion) (*ResourceDefinition, error) {
	def := &ResourceDefinition{
		Scope:      scope,
		Group:      group,
		Names:      names,
		Versions:   versions,
		Conversion: conversion,
	}
	if errs := def.Validate(conv); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	return def, nil
}

// Validate checks the naming rules, the version invariants and the conversion settings
func (d *ResourceDefinition) Validate(conv *naming.Convention) field.ErrorList {
	var errs field.ErrorList

	switch d.Scope {
	case ScopeCluster, ScopeNamespaced:
	default:
		errs = append(errs, field.NotSupported(field.NewPath("scope"), d.Scope, []Scope{ScopeCluster, ScopeNamespaced}))
	}

	if err := conv.CheckGroup(d.Group); err != nil {
		errs = append(errs, field.Invalid(field.NewPath("group"), d.Group, err.Error()))
	}

	errs = append(errs, validateNames(conv, d.Names, field.NewPath("names"))...)
	errs = append(errs, validateVersions(conv, d.Versions, field.NewPath("versions"))...)

	if d.Conversion != nil {
		errs = append(errs, d.validateConversion(field.NewPath("conversion"))...)
	}

	return errs
}

func validateNames(conv *naming.Convention, names Names, path *field.Path) field.ErrorList {
	var errs field.ErrorList

	if err := conv.CheckName(names.Singular); err != nil {
		errs = append(errs, field.Invalid(path.Child("singular"), names.Singular, err.Error()))
	}
	if err := conv.CheckPlural(names.Plural); err != nil {
		errs = append(errs, field.Invalid(path.Child("plural"), names.Plural, err.Error()))
	}
	if err := conv.CheckKind(names.Kind); err != nil {
		errs = append(errs, field.Invalid(path.Child("kind"), names.Kind, err.Error()))
	}
	for i, short := range names.ShortNames {
		if err := conv.CheckName(short); err != nil {
			errs = append(errs, field.Invalid(path.Child("shortNames").Index(i), short, err.Error()))
		}
	}

	return errs
}

func validateVersions(conv *naming.Convention, versions []Version, path *field.Path) field.ErrorList {
	var errs field.ErrorList

	if len(versions) == 0 {
		return append(errs, field.Required(path, "at least one version is required"))
	}

	seen := sets.New[string]()
	storage := 0
	for i, v := range versions {
		vPath := path.Index(i)
		if err := conv.CheckVersion(v.Name); err != nil {
			errs = append(errs, field.Invalid(vPath.Child("name"), v.Name, err.Error()))
		} else if seen.Has(v.Name) {
			errs = append(errs, field.Duplicate(vPath.Child("name"), v.Name))
		}
		seen.Insert(v.Name)

		if v.Schema == nil {
			errs = append(errs, field.Required(vPath.Child("schema"), "every version must declare a schema"))
		}
		for name, schema := range v.SubResources {
			if schema == nil {
				errs = append(errs, field.Required(vPath.Child("subResources").Key(name), "sub-resource schema is required"))
			}
		}
		if v.Storage {
			storage++
		}
	}

	if storage != 1 {
		errs = append(errs, field.Invalid(path, storage, "exactly one version must be marked as storage"))
	}

	return errs
}

func (d *ResourceDefinition) validateConversion(path *field.Path) field.ErrorList {
	var errs field.ErrorList

	served := d.servedVersions()
	if len(served) < 2 {
		errs = append(errs, field.Invalid(path, d.Conversion.Strategy, "conversion requires more than one served version"))
	}

	switch d.Conversion.Strategy {
	case ConversionNone:
		for i := 1; i < len(served); i++ {
			if !equality.Semantic.DeepEqual(served[0].Schema, served[i].Schema) {
				errs = append(errs, field.Invalid(path.Child("strategy"), d.Conversion.Strategy,
					fmt.Sprintf("versions %s and %s have different schemas and need a webhook conversion", served[0].Name, served[i].Name)))
			}
		}
	case ConversionWebhook:
		webhookPath := path.Child("webhook", "uri")
		if d.Conversion.Webhook == nil || d.Conversion.Webhook.URI == "" {
			errs = append(errs, field.Required(webhookPath, "webhook conversion requires a URI"))
		} else if u, err := url.Parse(d.Conversion.Webhook.URI); err != nil || !u.IsAbs() {
			errs = append(errs, field.Invalid(webhookPath, d.Conversion.Webhook.URI, "must be an absolute URI"))
		}
	default:
		errs = append(errs, field.NotSupported(path.Child("strategy"), d.Conversion.Strategy,
			[]ConversionStrategy{ConversionNone, ConversionWebhook}))
	}

	return errs
}

func (d *ResourceDefinition) servedVersions() []*Version {
	var out []*Version
	for i := range d.Versions {
		if d.Versions[i].Served {
			out = append(out, &d.Versions[i])
		}
	}
	return out
}

// Reference returns the reference of the newest version
func (d *ResourceDefinition) Reference() Reference {
	if len(d.Versions) == 0 {
		return NewReference(d.Group, "", d.Names.Plural)
	}
	return NewReference(d.Group, d.Versions[len(d.Versions)-1].Name, d.Names.Plural)
}

// ReferenceFor returns the reference of the given version if the definition declares it
func (d *ResourceDefinition) ReferenceFor(version string) (Reference, bool) {
	if _, ok := d.Version(version); !ok {
		return Reference{}, false
	}
	return NewReference(d.Group, version, d.Names.Plural), true
}

// Version returns the named version
func (d *ResourceDefinition) Version(name string) (*Version, bool) {
	for i := range d.Versions {
		if d.Versions[i].Name == name {
			return &d.Versions[i], true
		}
	}
	return nil, false
}

// StorageVersion returns the version resources are persisted at
func (d *ResourceDefinition) StorageVersion() (*Version, error) {
	for i := range d.Versions {
		if d.Versions[i].Storage {
			return &d.Versions[i], nil
		}
	}
	return nil, problem.Newf(problem.StorageVersionNotFound, "definition %s has no storage version", d.Key())
}

// ServedVersions returns the names of all served versions in declaration order
func (d *ResourceDefinition) ServedVersions() []string {
	var out []string
	for _, v := range d.servedVersions() {
		out = append(out, v.Name)
	}
	return out
}

// IsServed reports whether the named version exists and is served
func (d *ResourceDefinition) IsServed(version string) bool {
	v, ok := d.Version(version)
	return ok && v.Served
}

// ServedVersion returns the named version or a version-not-found problem when it is missing or not served
func (d *ResourceDefinition) ServedVersion(version string) (*Version, error) {
	v, ok := d.Version(version)
	if !ok || !v.Served {
		return nil, problem.Newf(problem.VersionNotFound, "version %q of %s is not served", version, d.Key())
	}
	return v, nil
}

// Namespaced reports whether resources of this type live in a namespace
func (d *ResourceDefinition) Namespaced() bool {
	return d.Scope == ScopeNamespaced
}

// Key returns the version independent identifier plural.group
func (d *ResourceDefinition) Key() string {
	return GroupPluralKey(d.Group, d.Names.Plural)
}

// GroupPluralKey builds the version independent identifier of a definition
func GroupPluralKey(group, plural string) string {
	if group == "" {
		return plural
	}
	return plural + "." + group
}

// DeepCopy returns a copy that shares no mutable state with d
func (d *ResourceDefinition) DeepCopy() *ResourceDefinition {
	out := *d
	out.Names.ShortNames = append([]string(nil), d.Names.ShortNames...)
	out.Versions = make([]Version, len(d.Versions))
	for i, v := range d.Versions {
		cp := v
		if v.Schema != nil {
			cp.Schema = v.Schema.DeepCopy()
		}
		if v.SubResources != nil {
			cp.SubResources = make(map[string]*apiextensionsv1.JSONSchemaProps, len(v.SubResources))
			for name, schema := range v.SubResources {
				cp.SubResources[name] = schema.DeepCopy()
			}
		}
		out.Versions[i] = cp
	}
	if d.Conversion != nil {
		conv := *d.Conversion
		if d.Conversion.Webhook != nil {
			webhook := *d.Conversion.Webhook
			conv.Webhook = &webhook
		}
		out.Conversion = &conv
	}
	return &out
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (d *ResourceDefinition) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("group", d.Group)
	enc.AddString("kind", d.Names.Kind)
	enc.AddString("plural", d.Names.Plural)
	enc.AddString("scope", string(d.Scope))
	return nil
}
