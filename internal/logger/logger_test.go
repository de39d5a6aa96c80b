package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	l, err := Init(Config{Level: "debug", Output: "stderr"})
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, l.GetLevel())

	_, err = Init(Config{Level: "loud"})
	assert.Error(t, err)
}
