package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	require.NoError(t, Configure("debug", "json"))
	t.Cleanup(func() {
		_ = Configure("info", "text")
	})

	log := NewLogger("segmenter").With("page", 2)
	log.Info("leaf found", "x0", 10, "dangling")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "segmenter", line["component"])
	assert.Equal(t, "leaf found", line["msg"])
	assert.EqualValues(t, 2, line["page"])
	assert.EqualValues(t, 10, line["x0"])
	assert.NotContains(t, line, "dangling")
}

func TestConfigure_Rejects(t *testing.T) {
	assert.Error(t, Configure("loud", "text"))
	assert.Error(t, Configure("info", "xml"))
}
