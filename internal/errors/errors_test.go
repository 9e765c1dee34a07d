package errors_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/kurihiro0119/github-repo-activity/internal/errors"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperrors.Class
	}{
		{"nil", nil, apperrors.ClassNone},
		{"rate limited", apperrors.NewRateLimitedError("slow down", nil), apperrors.ClassRateLimited},
		{"network", apperrors.NewNetworkError("reset", nil), apperrors.ClassTransient},
		{"server", apperrors.NewServerError("502", nil), apperrors.ClassTransient},
		{"not found", apperrors.NewNotFoundError("repo"), apperrors.ClassPermanent},
		{"forbidden", apperrors.NewForbiddenError("no access"), apperrors.ClassPermanent},
		{"exhausted", apperrors.NewExhaustedError(3, nil), apperrors.ClassPermanent},
		{"cancelled", apperrors.NewCancelledError(context.Canceled), apperrors.ClassCancelled},
		{"plain error", fmt.Errorf("boom"), apperrors.ClassPermanent},
		{"wrapped", fmt.Errorf("page 2: %w", apperrors.NewServerError("503", nil)), apperrors.ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperrors.Classify(tt.err))
		})
	}
}

func TestFetchKind(t *testing.T) {
	assert.Equal(t, "NotFound", apperrors.FetchKind(apperrors.NewNotFoundError("repo")))
	assert.Equal(t, "Forbidden", apperrors.FetchKind(apperrors.NewUnauthorizedError("bad token")))
	assert.Equal(t, "Network", apperrors.FetchKind(apperrors.NewServerError("500", nil)))
	assert.Equal(t, "Exhausted", apperrors.FetchKind(fmt.Errorf("commits: %w", apperrors.NewExhaustedError(5, nil))))
	assert.Equal(t, "RateLimited", apperrors.FetchKind(apperrors.NewRateLimitedError("wait", nil)))
}

func TestExhaustedUnwrapsLastError(t *testing.T) {
	last := apperrors.NewServerError("bad gateway", nil)
	err := apperrors.NewExhaustedError(4, last)

	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "gave up after 4 attempts")
	assert.True(t, apperrors.IsNotFound(fmt.Errorf("x: %w", apperrors.NewNotFoundError("branch"))))
	assert.False(t, apperrors.IsCancelled(nil))
}
