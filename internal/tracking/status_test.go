package tracking

import (
	"testing"

	"delivery-core/internal/common/errors"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusOrderReceived, StatusPreparing, true},
		{StatusPreparing, StatusHeadingYourWay, true},
		{StatusHeadingYourWay, StatusDelivered, true},
		{StatusOrderReceived, StatusCancelled, true},
		{StatusHeadingYourWay, StatusCancelled, true},
		{StatusPreparing, StatusPreparing, false},
		{StatusPickingUp, StatusWrappingUp, false},
		{StatusDelivered, StatusCancelled, false},
		{StatusCancelled, StatusPreparing, false},
		{StatusDelivered, StatusDelivered, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := CanTransition(tt.from, tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidStatusTransition))
			assert.Equal(t, 400, errors.HTTPStatus(err))
		})
	}
}

func TestCanTransition_IsMonotonic(t *testing.T) {
	all := append(append([]Status{}, progression...), StatusCancelled)
	for _, from := range all {
		for _, to := range all {
			err := CanTransition(from, to)
			switch {
			case from.Terminal():
				assert.Error(t, err, "%s is terminal", from)
			case to == StatusCancelled:
				assert.NoError(t, err)
			case rank(to) > rank(from):
				assert.NoError(t, err, "%s -> %s", from, to)
			default:
				assert.Error(t, err, "%s -> %s", from, to)
			}
		}
	}
}

func TestParseStatus(t *testing.T) {
	s, ok := ParseStatus(" Heading-Your-Way ")
	assert.True(t, ok)
	assert.Equal(t, StatusHeadingYourWay, s)

	s, ok = ParseStatus("cancelled")
	assert.True(t, ok)
	assert.Equal(t, StatusCancelled, s)

	_, ok = ParseStatus("lost")
	assert.False(t, ok)
}
