package display

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoDisplays() *Static {
	return NewStatic(25,
		Display{ID: 7, Bounds: Rect{X: 0, Y: 0, Width: 1920, Height: 1080}, Size: Size{Width: 1920, Height: 1080}},
		Display{ID: 9, Bounds: Rect{X: 1920, Y: 0, Width: 1280, Height: 1024}, Size: Size{Width: 1280, Height: 1024}},
	)
}

func TestResolveByID(t *testing.T) {
	p := twoDisplays()

	for _, id := range []ID{7, 9} {
		d, err := Resolve(p, id)
		require.NoError(t, err)
		assert.Equal(t, id, d.ID)
	}
}

func TestResolveUnknownID(t *testing.T) {
	_, err := Resolve(twoDisplays(), 42)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDisplayNotFound), "got %v", err)
}

func TestResolvePrimary(t *testing.T) {
	d, err := Resolve(twoDisplays(), Primary)
	require.NoError(t, err)
	assert.Equal(t, ID(7), d.ID, "display at the origin is primary")
}

func TestResolvePrimaryFlag(t *testing.T) {
	p := NewStatic(0,
		Display{ID: 1, Bounds: Rect{X: -1280, Width: 1280, Height: 1024}},
		Display{ID: 2, Bounds: Rect{Width: 1920, Height: 1080}, Primary: true},
	)
	d, err := Resolve(p, Primary)
	require.NoError(t, err)
	assert.Equal(t, ID(2), d.ID)
}

func TestResolveSeesHotplug(t *testing.T) {
	p := twoDisplays()
	_, err := Resolve(p, 9)
	require.NoError(t, err)

	p.Set(Display{ID: 7, Bounds: Rect{Width: 1920, Height: 1080}})
	_, err = Resolve(p, 9)
	assert.ErrorIs(t, err, ErrDisplayNotFound)
}

func TestPrimaryWithoutDisplays(t *testing.T) {
	_, err := Resolve(NewStatic(0), Primary)
	assert.ErrorIs(t, err, ErrDisplayNotFound)
}

func TestIndexOf(t *testing.T) {
	displays, err := twoDisplays().Displays()
	require.NoError(t, err)

	assert.Equal(t, 0, IndexOf(displays, 7))
	assert.Equal(t, 1, IndexOf(displays, 9))
	assert.Equal(t, -1, IndexOf(displays, 3))
}

func TestRectConversion(t *testing.T) {
	r := Rect{X: 1920, Y: -200, Width: 1280, Height: 1024}
	assert.Equal(t, r, RectFrom(r.Rectangle()))
}

func TestScreenshotProvider(t *testing.T) {
	p := NewScreenshotProvider(0)
	displays, err := p.Displays()
	require.NoError(t, err)
	if len(displays) == 0 {
		t.Skip("No displays available (headless environment)")
	}

	for i, d := range displays {
		assert.Equal(t, ID(i+1), d.ID)
		assert.Greater(t, d.Bounds.Width, 0)
		assert.Greater(t, d.Bounds.Height, 0)
	}
}
