package repository

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
)

type DefinitionRepository interface {
	Create(ctx context.Context, def *definition.ResourceDefinition) error
	Replace(ctx context.Context, def *definition.ResourceDefinition) error
	Get(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error)
	Delete(ctx context.Context, group, plural string) error
	List(ctx context.Context) ([]*definition.ResourceDefinition, error)
}

type definitionRepository struct {
	logger        *zap.Logger
	clientWrapper ClientWrapper
}

func NewDefinitionRepository(logger *zap.Logger, clientWrapper ClientWrapper) DefinitionRepository {
	return &definitionRepository{
		logger:        logger,
		clientWrapper: clientWrapper,
	}
}

func (r *definitionRepository) Create(ctx context.Context, def *definition.ResourceDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return internalerrors.NewMarshalingError("failed to marshal resource definition")
	}

	key := types.NewDefinitionKey(def.Group, def.Names.Plural)
	if _, err := r.clientWrapper.Create(ctx, key.ToKey(), data); err != nil {
		return err
	}

	r.logger.Info("Resource definition stored",
		zap.Object("definitionKey", key))

	return nil
}

func (r *definitionRepository) Replace(ctx context.Context, def *definition.ResourceDefinition) error {
	data, err := json.Marshal(def)
	if err != nil {
		return internalerrors.NewMarshalingError("failed to marshal resource definition")
	}

	key := types.NewDefinitionKey(def.Group, def.Names.Plural)
	if _, err := r.clientWrapper.Update(ctx, key.ToKey(), data, 0); err != nil {
		return err
	}

	r.logger.Info("Resource definition replaced",
		zap.Object("definitionKey", key))

	return nil
}

func (r *definitionRepository) Get(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error) {
	kv, err := r.clientWrapper.Get(ctx, types.NewDefinitionKey(group, plural).ToKey())
	if err != nil {
		return nil, err
	}
	return unmarshalDefinition(kv.Value)
}

func (r *definitionRepository) Delete(ctx context.Context, group, plural string) error {
	key := types.NewDefinitionKey(group, plural)
	if _, _, err := r.clientWrapper.Delete(ctx, key.ToKey(), 0); err != nil {
		return err
	}

	r.logger.Info("Resource definition deleted",
		zap.Object("definitionKey", key))

	return nil
}

// List skips stored values that no longer decode
func (r *definitionRepository) List(ctx context.Context) ([]*definition.ResourceDefinition, error) {
	batch, err := r.clientWrapper.List(ctx, types.DefinitionsPrefix)
	if err != nil {
		return nil, err
	}

	defs := make([]*definition.ResourceDefinition, 0, len(batch.KVs))
	for _, kv := range batch.KVs {
		def, err := unmarshalDefinition(kv.Value)
		if err != nil {
			r.logger.Error("Failed to unmarshal resource definition", zap.String("key", kv.Key), zap.Error(err))
			continue
		}
		defs = append(defs, def)
	}

	return defs, nil
}

func unmarshalDefinition(data []byte) (*definition.ResourceDefinition, error) {
	var def definition.ResourceDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, internalerrors.NewMarshalingError("failed to unmarshal resource definition")
	}
	return &def, nil
}
