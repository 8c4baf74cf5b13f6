package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	apierrors "github.com/tsamsiyu/themelio/internal/api/errors"
	internalerrors "github.com/tsamsiyu/themelio/internal/errors"
	"github.com/tsamsiyu/themelio/internal/service"
	"github.com/tsamsiyu/themelio/pkg/problem"
)

const ProblemContentType = "application/problem+json"

// ErrorMapper renders the last error of a request as a problem document
func ErrorMapper(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err
		if c.Writer.Written() {
			logger.Warn("Error after response was written",
				zap.String("path", c.FullPath()),
				zap.Error(err))
			return
		}

		WriteProblem(c, mapError(err, logger))
	}
}

// WriteProblem writes p with its own status
func WriteProblem(c *gin.Context, p *problem.Problem) {
	c.Header("Content-Type", ProblemContentType)
	c.JSON(p.Status, p)
}

func mapError(err error, logger *zap.Logger) *problem.Problem {
	var (
		invalidFields validator.ValidationErrors
		serialization *apierrors.SerializationError
		marshaling    *internalerrors.MarshalingError
	)

	switch {
	case errors.As(err, &invalidFields):
		details := make([]string, 0, len(invalidFields))
		for _, fieldError := range invalidFields {
			details = append(details, fieldError.Error())
		}
		return problem.New(problem.InvalidRequest, strings.Join(details, "; "))
	case errors.As(err, &serialization):
		logger.Debug("API serialization error",
			zap.String("operation", serialization.Operation),
			zap.Error(serialization.Err))
		return serialization.Problem()
	case errors.As(err, &marshaling):
		logger.Error("Marshaling error", zap.String("message", marshaling.Message))
		return internalProblem("data processing error")
	}

	if p, ok := service.ToProblem(err); ok {
		return p
	}

	logger.Error("Unhandled error", zap.Error(err))
	return internalProblem("")
}

// internalProblem reports failures that have no problem type of their own
func internalProblem(detail string) *problem.Problem {
	return &problem.Problem{
		Type:   problem.Type("internal-error"),
		Title:  "Internal server error",
		Status: http.StatusInternalServerError,
		Detail: detail,
	}
}
