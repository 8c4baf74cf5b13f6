package meta

import (
	"time"

	"github.com/tsamsiyu/themelio/pkg/naming"
	"go.uber.org/zap/zapcore"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

type TypeMeta struct {
	APIVersion string `json:"apiVersion,omitempty"`
	Kind       string `json:"kind,omitempty"`
}

type ObjectMeta struct {
	Name              string            `json:"name"`
	Namespace         string            `json:"namespace,omitempty"`
	UID               string            `json:"uid,omitempty"`
	ResourceVersion   string            `json:"resourceVersion,omitempty"`
	Generation        int64             `json:"generation,omitempty"`
	CreationTimestamp *time.Time        `json:"creationTimestamp,omitempty"`
	DeletionTimestamp *time.Time        `json:"deletionTimestamp,omitempty"`
	Labels            map[string]string `json:"labels,omitempty"`
	Annotations       map[string]string `json:"annotations,omitempty"`
}

type ListMeta struct {
	ResourceVersion string `json:"resourceVersion,omitempty"`
}

// Identity returns the name and namespace of the object
func (m *ObjectMeta) Identity() Identity {
	return Identity{Name: m.Name, Namespace: m.Namespace}
}

// Validate checks the name, namespace, label keys and annotation keys against the naming convention
func (m *ObjectMeta) Validate(conv *naming.Convention, path *field.Path) field.ErrorList {
	var errs field.ErrorList

	if err := conv.CheckName(m.Name); err != nil {
		errs = append(errs, field.Invalid(path.Child("name"), m.Name, err.Error()))
	}
	if m.Namespace != "" {
		if err := conv.CheckName(m.Namespace); err != nil {
			errs = append(errs, field.Invalid(path.Child("namespace"), m.Namespace, err.Error()))
		}
	}
	for key := range m.Labels {
		if err := conv.CheckLabelKey(key); err != nil {
			errs = append(errs, field.Invalid(path.Child("labels").Key(key), key, err.Error()))
		}
	}
	for key := range m.Annotations {
		if err := conv.CheckAnnotationKey(key); err != nil {
			errs = append(errs, field.Invalid(path.Child("annotations").Key(key), key, err.Error()))
		}
	}

	return errs
}

// DeepCopy returns a copy that shares no maps or timestamps with m
func (m ObjectMeta) DeepCopy() ObjectMeta {
	out := m
	if m.CreationTimestamp != nil {
		ts := *m.CreationTimestamp
		out.CreationTimestamp = &ts
	}
	if m.DeletionTimestamp != nil {
		ts := *m.DeletionTimestamp
		out.DeletionTimestamp = &ts
	}
	out.Labels = copyStringMap(m.Labels)
	out.Annotations = copyStringMap(m.Annotations)
	return out
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Identity is the name and namespace pair a resource is tracked by within its type
type Identity struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace,omitempty"`
}

func (i Identity) String() string {
	if i.Namespace == "" {
		return i.Name
	}
	return i.Namespace + "/" + i.Name
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (i Identity) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("name", i.Name)
	if i.Namespace != "" {
		enc.AddString("namespace", i.Namespace)
	}
	return nil
}
