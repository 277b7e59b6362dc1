package tsnetengine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmacdonaldsmith/tailnode/pkg/engine"
)

func TestEngine_CreateDistinctInstances(t *testing.T) {
	eng := New()

	a, err := eng.Create()
	require.NoError(t, err)
	b, err := eng.Create()
	require.NoError(t, err)

	assert.NotSame(t, a.(*instance).s, b.(*instance).s)
}

func TestInstance_SettersConfigureServer(t *testing.T) {
	inst, err := New().Create()
	require.NoError(t, err)
	s := inst.(*instance).s

	require.NoError(t, inst.SetEphemeral(true))
	require.NoError(t, inst.SetAuthKey("tskey-auth-test"))
	require.NoError(t, inst.SetHostname("echo"))
	require.NoError(t, inst.SetDir(t.TempDir()))
	require.NoError(t, inst.SetControlURL("http://127.0.0.1:9911"))

	assert.True(t, s.Ephemeral)
	assert.Equal(t, "tskey-auth-test", s.AuthKey)
	assert.Equal(t, "echo", s.Hostname)
	assert.NotEmpty(t, s.Dir)
	assert.Equal(t, "http://127.0.0.1:9911", s.ControlURL)
}

func TestInstance_SetLogf(t *testing.T) {
	inst, err := New().Create()
	require.NoError(t, err)
	s := inst.(*instance).s

	var lines []string
	require.NoError(t, inst.SetLogf(func(format string, args ...any) {
		lines = append(lines, format)
	}))
	s.Logf("backend %d", 1)
	assert.Equal(t, []string{"backend %d"}, lines)
	assert.Nil(t, s.UserLogf)

	assert.Error(t, inst.SetLogf(nil))
}

func TestInstance_DiscardKeepsUserMessages(t *testing.T) {
	inst, err := New().Create()
	require.NoError(t, err)
	s := inst.(*instance).s

	require.NoError(t, inst.SetLogf(engine.Discard))
	assert.NotNil(t, s.Logf)
	assert.Nil(t, s.UserLogf, "authorization URL must still reach stderr")
}
