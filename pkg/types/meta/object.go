package meta

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
)

// Resource is the envelope shared by every resource: apiVersion, kind, metadata, spec and status.
// Fields the envelope does not know are kept in Extra and written back unchanged.
type Resource[TSpec, TStatus any] struct {
	TypeMeta
	Metadata ObjectMeta `json:"metadata"`
	Spec     TSpec      `json:"spec"`
	Status   TStatus    `json:"status"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Object is a resource whose spec and status are kept as raw JSON
type Object = Resource[json.RawMessage, json.RawMessage]

var knownFields = map[string]struct{}{
	"apiVersion": {},
	"kind":       {},
	"metadata":   {},
	"spec":       {},
	"status":     {},
}

type envelope struct {
	APIVersion string          `json:"apiVersion,omitempty"`
	Kind       string          `json:"kind,omitempty"`
	Metadata   ObjectMeta      `json:"metadata"`
	Spec       json.RawMessage `json:"spec,omitempty"`
	Status     json.RawMessage `json:"status,omitempty"`
}

func (r Resource[TSpec, TStatus]) MarshalJSON() ([]byte, error) {
	spec, err := marshalOptional(r.Spec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal spec")
	}
	status, err := marshalOptional(r.Status)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal status")
	}

	data, err := json.Marshal(envelope{
		APIVersion: r.APIVersion,
		Kind:       r.Kind,
		Metadata:   r.Metadata,
		Spec:       spec,
		Status:     status,
	})
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return data, nil
	}

	keys := make([]string, 0, len(r.Extra))
	for key := range r.Extra {
		if _, known := knownFields[key]; !known {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1])
	for _, key := range keys {
		name, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(r.Extra[key])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshalOptional(v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	return data, nil
}

func (r *Resource[TSpec, TStatus]) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var out Resource[TSpec, TStatus]
	if raw, ok := fields["apiVersion"]; ok {
		if err := json.Unmarshal(raw, &out.APIVersion); err != nil {
			return errors.Wrap(err, "invalid apiVersion")
		}
	}
	if raw, ok := fields["kind"]; ok {
		if err := json.Unmarshal(raw, &out.Kind); err != nil {
			return errors.Wrap(err, "invalid kind")
		}
	}
	if raw, ok := fields["metadata"]; ok {
		if err := json.Unmarshal(raw, &out.Metadata); err != nil {
			return errors.Wrap(err, "invalid metadata")
		}
	}
	if raw, ok := fields["spec"]; ok {
		if err := json.Unmarshal(raw, &out.Spec); err != nil {
			return errors.Wrap(err, "invalid spec")
		}
	}
	if raw, ok := fields["status"]; ok {
		if err := json.Unmarshal(raw, &out.Status); err != nil {
			return errors.Wrap(err, "invalid status")
		}
	}

	for key, raw := range fields {
		if _, known := knownFields[key]; known {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[key] = raw
	}

	*r = out
	return nil
}

// Identity returns the name and namespace of the resource
func (r *Resource[TSpec, TStatus]) Identity() Identity {
	return r.Metadata.Identity()
}

// Clone returns a deep copy made through the JSON form of the resource
func (r *Resource[TSpec, TStatus]) Clone() (*Resource[TSpec, TStatus], error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	out := &Resource[TSpec, TStatus]{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Convert re-decodes a resource into another spec and status shape
func Convert[TOutSpec, TOutStatus, TInSpec, TInStatus any](in *Resource[TInSpec, TInStatus]) (*Resource[TOutSpec, TOutStatus], error) {
	data, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal resource")
	}
	out := &Resource[TOutSpec, TOutStatus]{}
	if err := json.Unmarshal(data, out); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal resource")
	}
	return out, nil
}

// ToObject turns a typed resource into its raw form
func ToObject[TSpec, TStatus any](in *Resource[TSpec, TStatus]) (*Object, error) {
	return Convert[json.RawMessage, json.RawMessage](in)
}

// FromObject decodes a raw object into a typed resource
func FromObject[TSpec, TStatus any](in *Object) (*Resource[TSpec, TStatus], error) {
	return Convert[TSpec, TStatus](in)
}

// CopyObject returns a deep copy of a raw object without a JSON round trip
func CopyObject(in *Object) *Object {
	if in == nil {
		return nil
	}
	out := *in
	out.Metadata = in.Metadata.DeepCopy()
	out.Spec = copyRaw(in.Spec)
	out.Status = copyRaw(in.Status)
	if in.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(in.Extra))
		for key, raw := range in.Extra {
			out.Extra[key] = copyRaw(raw)
		}
	}
	return &out
}

func copyRaw(in json.RawMessage) json.RawMessage {
	if in == nil {
		return nil
	}
	out := make(json.RawMessage, len(in))
	copy(out, in)
	return out
}

// List is the envelope of a collection of resources
type List[T any] struct {
	TypeMeta
	Metadata ListMeta `json:"metadata"`
	Items    []T      `json:"items"`
}
