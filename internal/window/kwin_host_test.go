package window

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeKdotool struct {
	outputs map[string]string
	calls   []string
}

func (f *fakeKdotool) run(args ...string) (string, error) {
	call := strings.Join(args, " ")
	f.calls = append(f.calls, call)
	out, ok := f.outputs[call]
	if !ok {
		return "", errors.New("exit status 1")
	}
	return out, nil
}

func TestKWinHostActiveWindow(t *testing.T) {
	k := &fakeKdotool{outputs: map[string]string{
		"getactivewindow":         "{active}",
		"windowminimize {active}": "",
		"windowactivate {active}": "",
	}}

	h, err := newKWinHost("", k.run)
	require.NoError(t, err)
	assert.Equal(t, "{active}", h.WindowID())

	visible, err := h.IsVisible()
	require.NoError(t, err)
	assert.True(t, visible)

	require.NoError(t, h.Hide())
	visible, _ = h.IsVisible()
	assert.False(t, visible)

	require.NoError(t, h.Show())
	require.NoError(t, h.Focus())
	visible, _ = h.IsVisible()
	assert.True(t, visible)

	assert.Equal(t, []string{
		"getactivewindow",
		"windowminimize {active}",
		"windowactivate {active}",
		"windowactivate {active}",
	}, k.calls)
}

func TestKWinHostSearchFallsBackToClass(t *testing.T) {
	k := &fakeKdotool{outputs: map[string]string{
		"search --class ^snapdesk$": "\n{first}\n{second}\n",
	}}

	h, err := newKWinHost("^snapdesk$", k.run)
	require.NoError(t, err)
	assert.Equal(t, "{first}", h.WindowID())
}

func TestKWinHostNotFound(t *testing.T) {
	k := &fakeKdotool{outputs: map[string]string{"getactivewindow": ""}}

	_, err := newKWinHost("", k.run)
	assert.ErrorIs(t, err, ErrWindowNotFound)

	_, err = newKWinHost("nothing", k.run)
	assert.ErrorIs(t, err, ErrWindowNotFound)

	_, err = newKWinHost("(", k.run)
	assert.Error(t, err)
}

func TestKWinHostHideFailureKeepsVisible(t *testing.T) {
	k := &fakeKdotool{outputs: map[string]string{"getactivewindow": "{w}"}}

	h, err := newKWinHost("", k.run)
	require.NoError(t, err)

	assert.Error(t, h.Hide())
	visible, _ := h.IsVisible()
	assert.True(t, visible)
}
