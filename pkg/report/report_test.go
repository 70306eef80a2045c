package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorst(t *testing.T) {
	assert.Equal(t, StatusError, Worst(StatusOK, StatusError))
	assert.Equal(t, StatusError, Worst(StatusError, StatusWarning))
	assert.Equal(t, StatusWarning, Worst(StatusOK, StatusWarning))
	assert.Equal(t, StatusOK, Worst(StatusOK, StatusOK))
}

func TestRollup(t *testing.T) {
	assert.Equal(t, StatusOK, Rollup(nil, nil))
	assert.Equal(t, StatusWarning, Rollup([]Issue{{Code: "X"}}, nil))
	assert.Equal(t, StatusError, Rollup([]Issue{{Code: "X"}}, []Issue{{Code: "Y"}}))
}
