package service

import (
	"context"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"sigs.k8s.io/yaml"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/internal/repository/types"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/types/definition"
	"github.com/tsamsiyu/themelio/pkg/validation"
)

type DefinitionService interface {
	// Load registers the built-in definition and every stored one
	Load(ctx context.Context) error
	Create(ctx context.Context, data []byte) (*definition.ResourceDefinition, error)
	Replace(ctx context.Context, group, plural string, data []byte) (*definition.ResourceDefinition, error)
	Get(ctx context.Context, group, plural string) (*definition.ResourceDefinition, error)
	List(ctx context.Context) []*definition.ResourceDefinition
	// Delete refuses to remove a definition that still has resources
	Delete(ctx context.Context, group, plural string) error
}

type definitionService struct {
	logger   *zap.Logger
	registry *definition.Registry
	repo     repository.DefinitionRepository
	store    repository.ResourceStore
	self     *definition.ResourceDefinition
	schema   *gojsonschema.Schema
}

func NewDefinitionService(
	logger *zap.Logger,
	registry *definition.Registry,
	repo repository.DefinitionRepository,
	store repository.ResourceStore,
) (DefinitionService, error) {
	self, err := definition.Self(registry.Convention())
	if err != nil {
		return nil, err
	}
	storage, err := self.StorageVersion()
	if err != nil {
		return nil, err
	}
	schema, err := validation.CompileSchema(storage.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "failed to compile the resource definition schema")
	}

	return &definitionService{
		logger:   logger,
		registry: registry,
		repo:     repo,
		store:    store,
		self:     self,
		schema:   schema,
	}, nil
}

func (s *definitionService) Load(ctx context.Context) error {
	if err := s.registry.Register(s.self); err != nil {
		return errors.Wrap(err, "failed to register the built-in resource definition")
	}

	defs, err := s.repo.List(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list stored resource definitions")
	}

	loaded := 0
	for _, def := range defs {
		if err := validation.ValidateSchemas(def); err != nil {
			s.logger.Error("Skipping stored resource definition with invalid schemas",
				zap.Object("definition", def), zap.Error(err))
			continue
		}
		if err := s.registry.Register(def); err != nil {
			s.logger.Error("Skipping invalid stored resource definition",
				zap.Object("definition", def), zap.Error(err))
			continue
		}
		loaded++
	}

	s.logger.Info("Resource definitions loaded",
		zap.Int("stored", len(defs)),
		zap.Int("registered", loaded))

	return nil
}

func (s *definitionService) Create(ctx context.Context, data []byte) (*definition.ResourceDefinition, error) {
	def, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	if err := s.checkMutable(def.Group, def.Names.Plural); err != nil {
		return nil, err
	}
	if existing, ok := s.registry.LookupKind(def.Group, def.Names.Kind); ok {
		return nil, problem.Newf(problem.AlreadyExists, "kind %s is already defined by %s", def.Names.Kind, existing.Key())
	}

	if err := s.repo.Create(ctx, def); err != nil {
		return nil, err
	}
	if err := s.registry.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *definitionService) Replace(ctx context.Context, group, plural string, data []byte) (*definition.ResourceDefinition, error) {
	if err := s.checkMutable(group, plural); err != nil {
		return nil, err
	}
	def, err := s.decode(data)
	if err != nil {
		return nil, err
	}
	if def.Group != group || def.Names.Plural != plural {
		return nil, internalerrors.NewInvalidInputErrorf("definition %s does not match %s",
			def.Key(), definition.GroupPluralKey(group, plural))
	}

	existing, err := s.Get(ctx, group, plural)
	if err != nil {
		return nil, err
	}
	if existing.Scope != def.Scope {
		return nil, internalerrors.NewInvalidInputErrorf("scope of %s cannot change from %s to %s",
			def.Key(), existing.Scope, def.Scope)
	}
	if existing.Names.Kind != def.Names.Kind {
		return nil, internalerrors.NewInvalidInputErrorf("kind of %s cannot change from %s to %s",
			def.Key(), existing.Names.Kind, def.Names.Kind)
	}

	if err := s.repo.Replace(ctx, def); err != nil {
		return nil, err
	}
	if err := s.registry.Register(def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *definitionService) Get(_ context.Context, group, plural string) (*definition.ResourceDefinition, error) {
	def, ok := s.registry.Lookup(group, plural)
	if !ok {
		return nil, problem.Newf(problem.DefinitionNotFound, "no definition for %s", definition.GroupPluralKey(group, plural))
	}
	return def, nil
}

func (s *definitionService) List(_ context.Context) []*definition.ResourceDefinition {
	return s.registry.List()
}

func (s *definitionService) Delete(ctx context.Context, group, plural string) error {
	if err := s.checkMutable(group, plural); err != nil {
		return err
	}
	if _, err := s.Get(ctx, group, plural); err != nil {
		return err
	}

	resources, _, err := s.store.List(ctx, types.NewResourceKey(group, plural, ""))
	if err != nil {
		return err
	}
	if len(resources) > 0 {
		return internalerrors.NewInvalidInputErrorf("definition %s still has %d resources",
			definition.GroupPluralKey(group, plural), len(resources))
	}

	if err := s.repo.Delete(ctx, group, plural); err != nil {
		return err
	}
	s.registry.Unregister(group, plural)
	return nil
}

// decode accepts YAML or JSON, checks it against the built-in definition schema, then applies
// the naming and version rules
func (s *definitionService) decode(data []byte) (*definition.ResourceDefinition, error) {
	document, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, internalerrors.NewInvalidInputErrorf("failed to decode resource definition: %v", err)
	}
	if err := validation.ValidateDocument(s.schema, document, "resource definition"); err != nil {
		return nil, err
	}

	def, err := definition.Load(s.registry.Convention(), document)
	if err != nil {
		return nil, internalerrors.NewInvalidInputError(err.Error())
	}
	if err := validation.ValidateSchemas(def); err != nil {
		return nil, err
	}
	return def, nil
}

func (s *definitionService) checkMutable(group, plural string) error {
	if group == s.self.Group && plural == s.self.Names.Plural {
		return internalerrors.NewInvalidInputError("the built-in resource definition cannot be modified")
	}
	return nil
}
