package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupProductionWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "debug", true)
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Str("blob_id", "abc").Msg("uploaded")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "uploaded", line["message"])
	assert.Equal(t, "abc", line["blob_id"])
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}

func TestSetupFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	SetupWriter(&buf, "nonsense", true)

	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}
