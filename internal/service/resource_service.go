package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/util/validation/field"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/metrics"
	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/admission"
	"github.com/tsamsiyu/themelio/pkg/conversion"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
	"github.com/tsamsiyu/themelio/pkg/validation"
	"github.com/tsamsiyu/themelio/pkg/watch"
)

var SENSITIVE_PATHS = []string{
	"/metadata/uid",
	"/metadata/creationTimestamp",
	"/metadata/deletionTimestamp",
	"/metadata/generation",
	"/metadata/resourceVersion",
}

type Params struct {
	Group     string
	Version   string
	Plural    string
	Namespace string
	Name      string
}

func (p Params) Reference() definition.Reference {
	return definition.NewReference(p.Group, p.Version, p.Plural)
}

// WriteOptions apply to every mutating operation
type WriteOptions struct {
	DryRun bool
	User   *admission.UserInfo
}

type ResourceService interface {
	Create(ctx context.Context, params Params, data []byte, opts WriteOptions) (*meta.Object, error)
	Get(ctx context.Context, params Params) (*meta.Object, error)
	List(ctx context.Context, params Params, selectors labels.Selectors) (*meta.List[*meta.Object], error)
	// Replace requires the resourceVersion of the replaced object in the body
	Replace(ctx context.Context, params Params, data []byte, opts WriteOptions) (*meta.Object, error)
	Patch(ctx context.Context, params Params, patch []byte, opts WriteOptions) (*meta.Object, error)
	PatchSubResource(ctx context.Context, params Params, subResource string, patch []byte, opts WriteOptions) (*meta.Object, error)
	// Delete removes the object. A non-empty resourceVersion must match the stored one.
	Delete(ctx context.Context, params Params, resourceVersion string, opts WriteOptions) (*meta.Object, error)
	// Watch streams changes of a collection after resourceVersion, or from now on when it is empty.
	// The returned function stops the watch and closes the channel.
	Watch(ctx context.Context, params Params, selectors labels.Selectors, resourceVersion string) (<-chan watch.Event, func(), error)
	// Monitor tracks one object from its current state. handler, when set, receives every
	// forwarded event.
	Monitor(ctx context.Context, params Params, handler watch.Handler) (*watch.Monitor, error)
}

type ResourceServiceConfig struct {
	StreamBuffer int
}

type resourceService struct {
	logger    *zap.Logger
	registry  *definition.Registry
	store     repository.ResourceStore
	watches   WatchOpener
	converter conversion.Converter
	reviewer  admission.Reviewer
	metrics   *metrics.Metrics
	config    ResourceServiceConfig
}

func NewResourceService(
	logger *zap.Logger,
	registry *definition.Registry,
	store repository.ResourceStore,
	watches WatchOpener,
	converter conversion.Converter,
	reviewer admission.Reviewer,
	metrics *metrics.Metrics,
	config ResourceServiceConfig,
) ResourceService {
	return &resourceService{
		logger:    logger,
		registry:  registry,
		store:     store,
		watches:   watches,
		converter: converter,
		reviewer:  reviewer,
		metrics:   metrics,
		config:    config,
	}
}

// target is a resolved request path
type target struct {
	def     *definition.ResourceDefinition
	version *definition.Version
	ref     definition.Reference
}

func (s *resourceService) resolve(params Params) (*target, error) {
	ref := params.Reference()
	def, version, err := s.registry.Resolve(ref)
	if err != nil {
		return nil, err
	}
	if def.Group == definition.SelfGroup && def.Names.Plural == definition.SelfPlural {
		return nil, internalerrors.NewInvalidInputError("resource definitions are managed through the definitions API")
	}

	if !def.Namespaced() && params.Namespace != "" {
		return nil, internalerrors.NewInvalidInputErrorf("%s is cluster scoped, namespace must be empty", def.Key())
	}
	if params.Namespace != "" {
		if err := s.registry.Convention().CheckName(params.Namespace); err != nil {
			return nil, internalerrors.NewInvalidInputError(err.Error())
		}
	}

	return &target{def: def, version: version, ref: ref}, nil
}

func (s *resourceService) resolveObject(params Params) (*target, types.ObjectKey, error) {
	t, err := s.resolve(params)
	if err != nil {
		return nil, types.ObjectKey{}, err
	}
	ref, err := meta.NewResourceReference(s.registry.Convention(), t.def, params.Version, params.Name, params.Namespace)
	if err != nil {
		return nil, types.ObjectKey{}, internalerrors.NewInvalidInputError(err.Error())
	}
	return t, types.NewObjectKeyFromReference(ref), nil
}

func (s *resourceService) Create(ctx context.Context, params Params, data []byte, opts WriteOptions) (result *meta.Object, err error) {
	defer s.record(params, "create", &err)

	t, err := s.resolve(params)
	if err != nil {
		return nil, err
	}
	obj, err := s.decode(t, params, data)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	obj.Metadata.UID = uuid.NewString()
	obj.Metadata.CreationTimestamp = &now
	obj.Metadata.DeletionTimestamp = nil
	obj.Metadata.Generation = 1
	obj.Metadata.ResourceVersion = ""

	if err := validation.ValidateResource(t.version, obj); err != nil {
		return nil, err
	}

	obj, err = s.admit(ctx, t, admission.OperationCreate, meta.ReferenceTo(t.ref, obj), opts,
		admission.WithUpdatedState(obj))
	if err != nil {
		return nil, err
	}

	stored, err := s.toStorage(ctx, t, obj)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return obj, nil
	}

	created, err := s.store.Create(ctx, types.NewObjectKeyFromResource(t.def, obj), stored)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Resource created",
		zap.Object("definition", t.ref),
		zap.Object("identity", created.Identity()),
		zap.String("resourceVersion", created.Metadata.ResourceVersion))

	return s.convert(ctx, t.def, created, params.Version)
}

func (s *resourceService) Get(ctx context.Context, params Params) (*meta.Object, error) {
	t, key, err := s.resolveObject(params)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, t, key)
}

func (s *resourceService) get(ctx context.Context, t *target, key types.ObjectKey) (*meta.Object, error) {
	stored, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.convert(ctx, t.def, stored, t.ref.Version)
}

func (s *resourceService) List(ctx context.Context, params Params, selectors labels.Selectors) (*meta.List[*meta.Object], error) {
	t, err := s.resolve(params)
	if err != nil {
		return nil, err
	}

	objects, revision, err := s.store.List(ctx, types.NewResourceKeyFromDefinition(t.def, params.Namespace))
	if err != nil {
		return nil, err
	}

	items := make([]*meta.Object, 0, len(objects))
	for _, obj := range objects {
		if !selectors.Matches(obj.Metadata.Labels) {
			continue
		}
		converted, err := s.convert(ctx, t.def, obj, params.Version)
		if err != nil {
			return nil, err
		}
		items = append(items, converted)
	}

	return &meta.List[*meta.Object]{
		TypeMeta: meta.TypeMeta{APIVersion: t.ref.APIVersion(), Kind: t.def.Names.Kind + "List"},
		Metadata: meta.ListMeta{ResourceVersion: repository.FormatRevision(revision)},
		Items:    items,
	}, nil
}

func (s *resourceService) Replace(ctx context.Context, params Params, data []byte, opts WriteOptions) (result *meta.Object, err error) {
	defer s.record(params, "replace", &err)

	t, key, err := s.resolveObject(params)
	if err != nil {
		return nil, err
	}
	obj, err := s.decode(t, params, data)
	if err != nil {
		return nil, err
	}
	if obj.Metadata.ResourceVersion == "" {
		return nil, problem.Newf(problem.ResourceVersionRequired, "metadata.resourceVersion is required to replace %s", key)
	}
	expected, err := repository.ParseRevision(obj.Metadata.ResourceVersion)
	if err != nil {
		return nil, err
	}

	existing, err := s.get(ctx, t, key)
	if err != nil {
		return nil, err
	}
	if existing.Metadata.ResourceVersion != obj.Metadata.ResourceVersion {
		return nil, problem.Newf(problem.ConcurrencyCheckFailed,
			"%s is at resourceVersion %s, not %s", key, existing.Metadata.ResourceVersion, obj.Metadata.ResourceVersion)
	}

	if _, ok := t.version.SubResource(validation.StatusSubResource); ok {
		obj.Status = existing.Status
	}
	restoreSystemMetadata(obj, existing)
	obj.Metadata.Generation = nextGeneration(existing, obj)

	if err := validation.ValidateResource(t.version, obj); err != nil {
		return nil, err
	}

	obj, err = s.admit(ctx, t, admission.OperationReplace, meta.ReferenceTo(t.ref, obj), opts,
		admission.WithOriginalState(existing),
		admission.WithUpdatedState(obj))
	if err != nil {
		return nil, err
	}

	return s.update(ctx, t, key, obj, expected, opts)
}

func (s *resourceService) Patch(ctx context.Context, params Params, patch []byte, opts WriteOptions) (result *meta.Object, err error) {
	defer s.record(params, "patch", &err)

	t, key, err := s.resolveObject(params)
	if err != nil {
		return nil, err
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, problem.Newf(problem.InvalidPatch, "failed to decode patch: %v", err)
	}
	if err := validatePatchOperations(decoded); err != nil {
		return nil, err
	}

	existing, err := s.get(ctx, t, key)
	if err != nil {
		return nil, err
	}

	patched, err := admission.ApplyPatch(existing, patch)
	if err != nil {
		return nil, err
	}
	if patched.APIVersion != existing.APIVersion || patched.Kind != existing.Kind ||
		patched.Identity() != existing.Identity() {
		return nil, problem.New(problem.InvalidPatch, "patch must not change apiVersion, kind, name or namespace")
	}
	if _, ok := t.version.SubResource(validation.StatusSubResource); ok && !jsonEqual(existing.Status, patched.Status) {
		return nil, problem.New(problem.InvalidPatch, "status can only be patched through the status sub-resource")
	}

	restoreSystemMetadata(patched, existing)
	patched.Metadata.Generation = nextGeneration(existing, patched)

	if err := validation.ValidateResource(t.version, patched); err != nil {
		return nil, err
	}

	admitted, err := s.admit(ctx, t, admission.OperationPatch, meta.ReferenceTo(t.ref, existing), opts,
		admission.WithOriginalState(existing),
		admission.WithUpdatedState(patched),
		admission.WithPatch(patch))
	if err != nil {
		return nil, err
	}

	expected, err := repository.ParseRevision(existing.Metadata.ResourceVersion)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, t, key, admitted, expected, opts)
}

func (s *resourceService) PatchSubResource(ctx context.Context, params Params, subResource string, patch []byte, opts WriteOptions) (result *meta.Object, err error) {
	defer s.record(params, "patch/"+subResource, &err)

	t, key, err := s.resolveObject(params)
	if err != nil {
		return nil, err
	}
	if _, ok := t.version.SubResource(subResource); !ok {
		return nil, problem.Newf(problem.UnsupportedSubResource, "%s has no sub-resource %q", t.ref, subResource)
	}

	decoded, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, problem.Newf(problem.InvalidSubResourcePatch, "failed to decode patch: %v", err)
	}

	existing, err := s.get(ctx, t, key)
	if err != nil {
		return nil, err
	}

	current := subResourceValue(existing, subResource)
	value, err := decoded.Apply(current)
	if err != nil {
		return nil, problem.Newf(problem.InvalidSubResourcePatch, "failed to apply patch to %s: %v", subResource, err)
	}
	if err := validation.ValidateSubResource(t.version, subResource, value); err != nil {
		return nil, err
	}

	patched := meta.CopyObject(existing)
	setSubResourceValue(patched, subResource, value)

	admitted, err := s.admit(ctx, t, admission.OperationPatch, meta.ReferenceTo(t.ref, existing), opts,
		admission.WithOriginalState(existing),
		admission.WithUpdatedState(patched),
		admission.WithPatch(patch),
		admission.WithSubResource(subResource))
	if err != nil {
		return nil, err
	}

	expected, err := repository.ParseRevision(existing.Metadata.ResourceVersion)
	if err != nil {
		return nil, err
	}
	return s.update(ctx, t, key, admitted, expected, opts)
}

func (s *resourceService) update(ctx context.Context, t *target, key types.ObjectKey, obj *meta.Object, expected int64, opts WriteOptions) (*meta.Object, error) {
	stored, err := s.toStorage(ctx, t, obj)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return obj, nil
	}

	updated, err := s.store.Update(ctx, key, stored, expected)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Resource updated",
		zap.Object("objectKey", key),
		zap.Int64("generation", updated.Metadata.Generation),
		zap.String("resourceVersion", updated.Metadata.ResourceVersion))

	return s.convert(ctx, t.def, updated, t.ref.Version)
}

func (s *resourceService) Delete(ctx context.Context, params Params, resourceVersion string, opts WriteOptions) (result *meta.Object, err error) {
	defer s.record(params, "delete", &err)

	t, key, err := s.resolveObject(params)
	if err != nil {
		return nil, err
	}
	expected, err := repository.ParseRevision(resourceVersion)
	if err != nil {
		return nil, err
	}

	existing, err := s.get(ctx, t, key)
	if err != nil {
		return nil, err
	}
	if expected != 0 && existing.Metadata.ResourceVersion != resourceVersion {
		return nil, problem.Newf(problem.ConcurrencyCheckFailed,
			"%s is at resourceVersion %s, not %s", key, existing.Metadata.ResourceVersion, resourceVersion)
	}

	if _, err := s.admit(ctx, t, admission.OperationDelete, meta.ReferenceTo(t.ref, existing), opts,
		admission.WithOriginalState(existing)); err != nil {
		return nil, err
	}
	if opts.DryRun {
		return existing, nil
	}

	deleted, err := s.store.Delete(ctx, key, expected)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Resource deleted",
		zap.Object("objectKey", key),
		zap.String("resourceVersion", deleted.Metadata.ResourceVersion))

	return s.convert(ctx, t.def, deleted, params.Version)
}

// decode reads a request body into an object of the target type. Missing apiVersion, kind and
// namespace are taken from the request path.
func (s *resourceService) decode(t *target, params Params, data []byte) (*meta.Object, error) {
	obj := &meta.Object{}
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, internalerrors.NewInvalidInputErrorf("failed to decode resource: %v", err)
	}

	apiVersion := t.ref.APIVersion()
	if obj.APIVersion == "" {
		obj.APIVersion = apiVersion
	}
	if obj.Kind == "" {
		obj.Kind = t.def.Names.Kind
	}
	if obj.APIVersion != apiVersion || obj.Kind != t.def.Names.Kind {
		return nil, internalerrors.NewInvalidInputErrorf("resource is %s %s, expected %s %s",
			obj.APIVersion, obj.Kind, apiVersion, t.def.Names.Kind)
	}

	if t.def.Namespaced() && obj.Metadata.Namespace == "" {
		obj.Metadata.Namespace = params.Namespace
	}
	if params.Namespace != "" && obj.Metadata.Namespace != params.Namespace {
		return nil, internalerrors.NewInvalidInputErrorf("resource namespace %q does not match %q", obj.Metadata.Namespace, params.Namespace)
	}
	if params.Name != "" && obj.Metadata.Name != params.Name {
		return nil, internalerrors.NewInvalidInputErrorf("resource name %q does not match %q", obj.Metadata.Name, params.Name)
	}

	conv := s.registry.Convention()
	if errs := obj.Metadata.Validate(conv, field.NewPath("metadata")); len(errs) > 0 {
		return nil, internalerrors.NewInvalidInputError(errs.ToAggregate().Error())
	}
	if err := meta.CheckScope(conv, t.def, obj.Identity()); err != nil {
		return nil, internalerrors.NewInvalidInputError(err.Error())
	}

	return obj, nil
}

// admit runs the admission chain and returns the updated state with any admission patch applied
func (s *resourceService) admit(
	ctx context.Context,
	t *target,
	op admission.Operation,
	ref meta.ResourceReference,
	opts WriteOptions,
	options ...admission.RequestOption,
) (*meta.Object, error) {
	options = append(options, admission.WithDryRun(opts.DryRun), admission.WithUser(opts.User))
	req, err := admission.NewRequest(op, ref, options...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build admission request")
	}
	if s.reviewer == nil {
		return req.UpdatedState, nil
	}

	resp, err := s.reviewer.Review(ctx, req)
	if err != nil {
		s.logger.Warn("Admission review failed",
			zap.String("uid", req.UID),
			zap.Object("resource", ref),
			zap.Error(err))
		return nil, problem.Newf(problem.AdmissionFailed, "admission review failed: %v", err)
	}
	s.metrics.RecordAdmission(string(op), resp.Allowed)

	if !resp.Allowed {
		s.logger.Debug("Admission denied",
			zap.String("uid", req.UID),
			zap.String("operation", string(op)),
			zap.Object("resource", ref))
		return nil, resp.Denial()
	}
	if len(resp.Patch) == 0 {
		return req.UpdatedState, nil
	}
	if req.UpdatedState == nil {
		return nil, problem.Newf(problem.AdmissionFailed, "admission patched a %s request", op)
	}

	patched, err := admission.ApplyPatch(req.UpdatedState, resp.Patch)
	if err != nil {
		return nil, problem.Newf(problem.AdmissionFailed, "admission patch does not apply: %v", err)
	}
	patched.TypeMeta = req.UpdatedState.TypeMeta
	patched.Metadata.Name = req.UpdatedState.Metadata.Name
	patched.Metadata.Namespace = req.UpdatedState.Metadata.Namespace
	restoreSystemMetadata(patched, req.UpdatedState)
	patched.Metadata.Generation = req.UpdatedState.Metadata.Generation

	if err := validation.ValidateResource(t.version, patched); err != nil {
		return nil, err
	}
	return patched, nil
}

func (s *resourceService) toStorage(ctx context.Context, t *target, obj *meta.Object) (*meta.Object, error) {
	storage, err := t.def.StorageVersion()
	if err != nil {
		return nil, err
	}
	return s.convert(ctx, t.def, obj, storage.Name)
}

// convert returns obj at version and keeps the system metadata of obj
func (s *resourceService) convert(ctx context.Context, def *definition.ResourceDefinition, obj *meta.Object, version string) (*meta.Object, error) {
	desired := definition.JoinAPIVersion(def.Group, version)
	if obj.APIVersion == desired {
		return obj, nil
	}

	converted, err := s.converter.Convert(ctx, def, obj, version)
	s.metrics.RecordConversion(def.Group, def.Names.Plural, err)
	if err != nil {
		return nil, err
	}

	out := meta.CopyObject(converted)
	out.APIVersion = desired
	out.Metadata.Name = obj.Metadata.Name
	out.Metadata.Namespace = obj.Metadata.Namespace
	out.Metadata.Generation = obj.Metadata.Generation
	restoreSystemMetadata(out, obj)
	return out, nil
}

func (s *resourceService) record(params Params, operation string, err *error) {
	s.metrics.RecordResourceOperation(params.Group, params.Plural, operation, *err)
}

// restoreSystemMetadata copies the fields only the server may set from src to dst
func restoreSystemMetadata(dst, src *meta.Object) {
	dst.Metadata.UID = src.Metadata.UID
	dst.Metadata.CreationTimestamp = src.Metadata.CreationTimestamp
	dst.Metadata.DeletionTimestamp = src.Metadata.DeletionTimestamp
	dst.Metadata.ResourceVersion = src.Metadata.ResourceVersion
}

// nextGeneration increments the generation when the spec changed
func nextGeneration(existing, updated *meta.Object) int64 {
	if jsonEqual(existing.Spec, updated.Spec) {
		return existing.Metadata.Generation
	}
	return existing.Metadata.Generation + 1
}

func jsonEqual(a, b json.RawMessage) bool {
	var left, right any
	if len(a) > 0 {
		if err := json.Unmarshal(a, &left); err != nil {
			return false
		}
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &right); err != nil {
			return false
		}
	}
	return equality.Semantic.DeepEqual(left, right)
}

func subResourceValue(obj *meta.Object, name string) []byte {
	var value json.RawMessage
	if name == validation.StatusSubResource {
		value = obj.Status
	} else {
		value = obj.Extra[name]
	}
	trimmed := strings.TrimSpace(string(value))
	if trimmed == "" || trimmed == "null" {
		return []byte(`{}`)
	}
	return value
}

func setSubResourceValue(obj *meta.Object, name string, value []byte) {
	if name == validation.StatusSubResource {
		obj.Status = value
		return
	}
	if obj.Extra == nil {
		obj.Extra = make(map[string]json.RawMessage)
	}
	obj.Extra[name] = value
}

// validatePatchOperations validates that patch operations don't modify sensitive system fields
func validatePatchOperations(patch jsonpatch.Patch) error {
	for i, op := range patch {
		for _, pathField := range []string{"path", "from"} {
			raw, ok := op[pathField]
			if !ok || raw == nil {
				continue
			}
			var path string
			if err := json.Unmarshal(*raw, &path); err != nil {
				continue
			}
			if path == "" || path == "/metadata" {
				return problem.Newf(problem.InvalidPatch, "patch operation %d: cannot replace %q as a whole", i, path)
			}
			for _, sensitivePath := range SENSITIVE_PATHS {
				if path == sensitivePath || strings.HasPrefix(path, sensitivePath+"/") {
					return problem.New(problem.InvalidPatch,
						fmt.Sprintf("patch operation %d: cannot modify sensitive field %s", i, path))
				}
			}
		}
	}
	return nil
}
