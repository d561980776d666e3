package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryHelpers(t *testing.T) {
	assert.True(t, IsConflict(Conflictf("duplicate chat pair %s", "a:b")))
	assert.True(t, IsInvalidState(InvalidStatef("request is %s", "accepted")))
	assert.True(t, IsValidation(Validationf("empty content")))
	assert.True(t, IsNotFound(NotFoundf("request %s", "r-1")))
	assert.True(t, IsTransient(Transientf("feed channel lost")))
}

func TestCategoriesAreDistinct(t *testing.T) {
	err := Conflictf("x")
	assert.False(t, IsValidation(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestTransientKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient(cause)

	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, Transient(nil))
}

func TestWrappingSurvivesExtraLayers(t *testing.T) {
	err := fmt.Errorf("open chat: %w", Conflictf("duplicate"))
	assert.True(t, IsConflict(err))
}

func TestUnknown(t *testing.T) {
	cause := errors.New("driver exploded")
	err := Unknown(cause)

	assert.True(t, errors.Is(err, ErrUnknown))
	assert.True(t, errors.Is(err, cause))
	assert.Nil(t, Unknown(nil))
}
