package repository

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/types/meta"
)

// ResourceStore persists resources as JSON. The resourceVersion of a returned object is the etcd
// mod revision it was read or written at; it is never part of the stored value.
type ResourceStore interface {
	Create(ctx context.Context, key types.ObjectKey, obj *meta.Object) (*meta.Object, error)
	Get(ctx context.Context, key types.ObjectKey) (*meta.Object, error)
	// List returns the objects under key and the revision the list was served at
	List(ctx context.Context, key types.ResourceKey) ([]*meta.Object, int64, error)
	Update(ctx context.Context, key types.ObjectKey, obj *meta.Object, expectedRevision int64) (*meta.Object, error)
	Delete(ctx context.Context, key types.ObjectKey, expectedRevision int64) (*meta.Object, error)
}

type resourceStore struct {
	clientWrapper ClientWrapper
	logger        *zap.Logger
}

func NewResourceStore(logger *zap.Logger, clientWrapper ClientWrapper) ResourceStore {
	return &resourceStore{
		clientWrapper: clientWrapper,
		logger:        logger,
	}
}

func (s *resourceStore) Create(ctx context.Context, key types.ObjectKey, obj *meta.Object) (*meta.Object, error) {
	data, err := MarshalResource(obj)
	if err != nil {
		return nil, err
	}

	revision, err := s.clientWrapper.Create(ctx, key.ToKey(), data)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Resource created in etcd",
		zap.Object("objectKey", key),
		zap.Int64("revision", revision))

	return withRevision(obj, revision), nil
}

func (s *resourceStore) Get(ctx context.Context, key types.ObjectKey) (*meta.Object, error) {
	kv, err := s.clientWrapper.Get(ctx, key.ToKey())
	if err != nil {
		return nil, err
	}
	return UnmarshalResource(kv.Value, kv.ModRevision)
}

func (s *resourceStore) List(ctx context.Context, key types.ResourceKey) ([]*meta.Object, int64, error) {
	batch, err := s.clientWrapper.List(ctx, key.ToKey())
	if err != nil {
		return nil, 0, err
	}

	resources := make([]*meta.Object, 0, len(batch.KVs))
	for _, kv := range batch.KVs {
		resource, err := UnmarshalResource(kv.Value, kv.ModRevision)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "failed to read %s", kv.Key)
		}
		resources = append(resources, resource)
	}

	return resources, batch.Revision, nil
}

func (s *resourceStore) Update(ctx context.Context, key types.ObjectKey, obj *meta.Object, expectedRevision int64) (*meta.Object, error) {
	data, err := MarshalResource(obj)
	if err != nil {
		return nil, err
	}

	revision, err := s.clientWrapper.Update(ctx, key.ToKey(), data, expectedRevision)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Resource updated in etcd",
		zap.Object("objectKey", key),
		zap.Int64("expectedRevision", expectedRevision),
		zap.Int64("revision", revision))

	return withRevision(obj, revision), nil
}

func (s *resourceStore) Delete(ctx context.Context, key types.ObjectKey, expectedRevision int64) (*meta.Object, error) {
	prev, revision, err := s.clientWrapper.Delete(ctx, key.ToKey(), expectedRevision)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("Resource deleted from etcd",
		zap.Object("objectKey", key),
		zap.Int64("revision", revision))

	return UnmarshalResource(prev.Value, revision)
}

// MarshalResource encodes obj for storage without its resourceVersion
func MarshalResource(obj *meta.Object) ([]byte, error) {
	stored := meta.CopyObject(obj)
	stored.Metadata.ResourceVersion = ""

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, internalerrors.NewMarshalingError("failed to marshal resource")
	}
	return data, nil
}

// UnmarshalResource decodes a stored resource and stamps revision as its resourceVersion
func UnmarshalResource(data []byte, revision int64) (*meta.Object, error) {
	var obj meta.Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, internalerrors.NewMarshalingError("failed to unmarshal resource")
	}
	obj.Metadata.ResourceVersion = FormatRevision(revision)
	return &obj, nil
}

func FormatRevision(revision int64) string {
	if revision == 0 {
		return ""
	}
	return strconv.FormatInt(revision, 10)
}

// ParseRevision parses a resourceVersion. The empty string is revision zero.
func ParseRevision(resourceVersion string) (int64, error) {
	if resourceVersion == "" {
		return 0, nil
	}
	revision, err := strconv.ParseInt(resourceVersion, 10, 64)
	if err != nil || revision <= 0 {
		return 0, internalerrors.NewInvalidInputError("invalid resource version " + strconv.Quote(resourceVersion))
	}
	return revision, nil
}

func withRevision(obj *meta.Object, revision int64) *meta.Object {
	out := meta.CopyObject(obj)
	out.Metadata.ResourceVersion = FormatRevision(revision)
	return out
}
