package service

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/repository"
	"github.com/tsamsiyu/themelio/pkg/labels"
	"github.com/tsamsiyu/themelio/pkg/problem"
	"github.com/tsamsiyu/themelio/pkg/validation"
)

func TestToProblem(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want problem.Type
	}{
		{"problem", problem.New(problem.AdmissionFailed, "no"), problem.AdmissionFailed},
		{"wrapped problem", errors.Wrap(problem.New(problem.InvalidPatch, "bad"), "patch"), problem.InvalidPatch},
		{"not found", repository.NewNotFoundError("/resources/a"), problem.NotFound},
		{"already exists", repository.NewAlreadyExistsError("/resources/a"), problem.AlreadyExists},
		{"conflict", errors.Wrap(repository.NewConflictError("/resources/a", 1, 2), "update"), problem.ConcurrencyCheckFailed},
		{"compacted", repository.NewCompactedError(3, 10), problem.ResourceVersionExpired},
		{"invalid input", internalerrors.NewInvalidInputError("bad"), problem.InvalidRequest},
		{"schema", validation.NewValidationError("invalid", "spec.size"), problem.SchemaValidationFailed},
		{"selector", labels.NewParseError("a in", "missing values"), problem.InvalidRequest},
	}

	got := make(map[string]problem.Type, len(tests))
	want := make(map[string]problem.Type, len(tests))
	for _, tt := range tests {
		p, ok := ToProblem(tt.err)
		if assert.True(t, ok, tt.name) {
			got[tt.name] = p.Type
		}
		want[tt.name] = tt.want
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToProblem mismatch (-want +got):\n%s", diff)
	}
}

func TestToProblemUnknown(t *testing.T) {
	_, ok := ToProblem(errors.New("boom"))
	assert.False(t, ok)
}
