package service

import (
	"github.com/pkg/errors"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/validation"
)

// ToProblem maps an error from the service or storage layer to the problem reported to clients.
// It returns false for errors that have no client-facing meaning.
func ToProblem(err error) (*problem.Problem, bool) {
	if p, ok := problem.From(err); ok {
		return p, true
	}

	var (
		notFound      *repository.NotFoundError
		alreadyExists *repository.AlreadyExistsError
		conflict      *repository.ConflictError
		compacted     *repository.CompactedError
		invalidInput  *internalerrors.InvalidInputError
		invalidSchema *validation.ValidationError
		selector      *labels.ParseError
	)

	switch {
	case errors.As(err, &notFound):
		return problem.New(problem.NotFound, notFound.Error()), true
	case errors.As(err, &alreadyExists):
		return problem.New(problem.AlreadyExists, alreadyExists.Error()), true
	case errors.As(err, &conflict):
		return problem.New(problem.ConcurrencyCheckFailed, conflict.Error()), true
	case errors.As(err, &compacted):
		return problem.New(problem.ResourceVersionExpired, compacted.Error()), true
	case errors.As(err, &invalidInput):
		return invalidInput.Problem(), true
	case errors.As(err, &invalidSchema):
		return invalidSchema.Problem(), true
	case errors.As(err, &selector):
		return problem.New(problem.InvalidRequest, selector.Error()), true
	}
	return nil, false
}
