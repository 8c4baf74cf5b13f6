package admission

import (
	"encoding/json"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"k8s.io/apimachinery/pkg/util/validation/field"
)

type Operation string

const (
	OperationCreate  Operation = "CREATE"
	OperationReplace Operation = "REPLACE"
	OperationPatch   Operation = "PATCH"
	OperationDelete  Operation = "DELETE"
)

var operations = []Operation{OperationCreate, OperationReplace, OperationPatch, OperationDelete}

// RequiresOriginalState reports whether the operation acts on an existing resource
func (o Operation) RequiresOriginalState() bool {
	return o != OperationCreate
}

// RequiresUpdatedState reports whether the operation carries the full new state
func (o Operation) RequiresUpdatedState() bool {
	return o == OperationCreate || o == OperationReplace
}

// RequiresPatch reports whether the operation is described by a patch
func (o Operation) RequiresPatch() bool {
	return o == OperationPatch
}

type UserInfo struct {
	Username string   `json:"username,omitempty"`
	UID      string   `json:"uid,omitempty"`
	Groups   []string `json:"groups,omitempty"`
}

// Request describes a proposed mutation of one resource
type Request struct {
	UID           string                 `json:"uid"`
	Operation     Operation              `json:"operation"`
	Resource      meta.ResourceReference `json:"resource"`
	SubResource   string                 `json:"subResource,omitempty"`
	Patch         json.RawMessage        `json:"patch,omitempty"`
	UpdatedState  *meta.Object           `json:"updatedState,omitempty"`
	OriginalState *meta.Object           `json:"originalState,omitempty"`
	User          *UserInfo              `json:"user,omitempty"`
	DryRun        bool                   `json:"dryRun"`
}

type RequestOption func(*Request)

func WithUID(uid string) RequestOption {
	return func(r *Request) {
		r.UID = uid
	}
}

func WithUpdatedState(obj *meta.Object) RequestOption {
	return func(r *Request) {
		r.UpdatedState = obj
	}
}

func WithOriginalState(obj *meta.Object) RequestOption {
	return func(r *Request) {
		r.OriginalState = obj
	}
}

// WithPatch sets the JSON patch (RFC 6902) of a PATCH request
func WithPatch(patch json.RawMessage) RequestOption {
	return func(r *Request) {
		r.Patch = patch
	}
}

func WithSubResource(name string) RequestOption {
	return func(r *Request) {
		r.SubResource = name
	}
}

func WithUser(user *UserInfo) RequestOption {
	return func(r *Request) {
		r.User = user
	}
}

func WithDryRun(dryRun bool) RequestOption {
	return func(r *Request) {
		r.DryRun = dryRun
	}
}

// NewRequest builds a request and fails if the payload required by the operation is missing
func NewRequest(op Operation, resource meta.ResourceReference, opts ...RequestOption) (*Request, error) {
	req := &Request{
		Operation: op,
		Resource:  resource,
	}
	for _, opt := range opts {
		opt(req)
	}
	if req.UID == "" {
		req.UID = uuid.NewString()
	}

	if errs := req.Validate(); len(errs) > 0 {
		return nil, errs.ToAggregate()
	}
	return req, nil
}

// Validate applies the presence rules of the operation to the request
func (r *Request) Validate() field.ErrorList {
	var errs field.ErrorList
	path := field.NewPath("request")

	if r.UID == "" {
		errs = append(errs, field.Required(path.Child("uid"), ""))
	}
	if r.Resource.Name == "" {
		errs = append(errs, field.Required(path.Child("resource", "name"), ""))
	}
	if r.Resource.Definition.Version == "" || r.Resource.Definition.Plural == "" {
		errs = append(errs, field.Required(path.Child("resource", "definition"), "version and plural are required"))
	}

	switch r.Operation {
	case OperationCreate, OperationReplace, OperationPatch, OperationDelete:
	default:
		return append(errs, field.NotSupported(path.Child("operation"), r.Operation, operations))
	}

	if r.Operation.RequiresUpdatedState() && r.UpdatedState == nil {
		errs = append(errs, field.Required(path.Child("updatedState"), "required for "+string(r.Operation)))
	}
	if r.Operation.RequiresOriginalState() && r.OriginalState == nil {
		errs = append(errs, field.Required(path.Child("originalState"), "required for "+string(r.Operation)))
	}
	if r.Operation.RequiresPatch() && len(r.Patch) == 0 {
		errs = append(errs, field.Required(path.Child("patch"), "required for "+string(r.Operation)))
	}
	if len(r.Patch) > 0 {
		if _, err := jsonpatch.DecodePatch(r.Patch); err != nil {
			errs = append(errs, field.Invalid(path.Child("patch"), string(r.Patch), err.Error()))
		}
	}

	return errs
}

// Labels returns the labels admission policies judge the request by: the updated state when
// present, otherwise the original one.
func (r *Request) Labels() map[string]string {
	if r.UpdatedState != nil {
		return r.UpdatedState.Metadata.Labels
	}
	if r.OriginalState != nil {
		return r.OriginalState.Metadata.Labels
	}
	return nil
}
