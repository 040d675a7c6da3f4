package synthetic_test

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-scan/modules/camera"
	"github.com/e7canasta/orion-scan/modules/camera/synthetic"
	"github.com/e7canasta/orion-scan/modules/decoder/qrtest"
)

func TestStream_ReplaysThenRepeatsLast(t *testing.T) {
	red := qrtest.Blank(4, 4, color.RGBA{255, 0, 0, 255})
	green := qrtest.Blank(4, 4, color.RGBA{0, 255, 0, 255})
	dev := synthetic.New(red, green)

	s, err := dev.Open(context.Background(), camera.Constraints{})
	require.NoError(t, err)
	require.True(t, s.HasData())

	dst := image.NewRGBA(image.Rect(0, 0, 4, 4))
	want := []color.RGBA{red.RGBAAt(0, 0), green.RGBAAt(0, 0), green.RGBAAt(0, 0)}
	traces := map[string]bool{}
	for i, w := range want {
		info, ok := s.DrawTo(dst)
		require.True(t, ok, "frame %d", i)
		assert.Equal(t, w, dst.RGBAAt(2, 2), "frame %d", i)
		assert.Equal(t, uint64(i+1), info.Seq)
		assert.False(t, info.CapturedAt.IsZero())
		traces[info.TraceID] = true
	}
	assert.Len(t, traces, len(want), "every frame gets its own trace id")
}

func draw(s camera.VideoSource, dst *image.RGBA) bool {
	_, ok := s.DrawTo(dst)
	return ok
}

func TestStream_VideoSizeFollowsFrames(t *testing.T) {
	dev := synthetic.New(
		qrtest.Blank(64, 48, color.RGBA{A: 255}),
		qrtest.Blank(48, 64, color.RGBA{A: 255}),
	)
	s, err := dev.Open(context.Background(), camera.Constraints{})
	require.NoError(t, err)

	w, h := s.VideoSize()
	assert.Equal(t, [2]int{64, 48}, [2]int{w, h})

	require.True(t, draw(s, image.NewRGBA(image.Rect(0, 0, w, h))))

	w, h = s.VideoSize()
	assert.Equal(t, [2]int{48, 64}, [2]int{w, h})

	assert.False(t, draw(s, image.NewRGBA(image.Rect(0, 0, 64, 48))), "size mismatch is refused")
}

func TestStream_StoppedTrackHasNoData(t *testing.T) {
	dev := synthetic.New(qrtest.Blank(4, 4, color.RGBA{A: 255}))
	s, err := dev.Open(context.Background(), camera.Constraints{})
	require.NoError(t, err)

	tracks := s.Tracks()
	require.Len(t, tracks, 1)
	tracks[0].Stop()
	tracks[0].Stop()

	assert.False(t, tracks[0].Live())
	assert.False(t, s.HasData())
	assert.False(t, draw(s, image.NewRGBA(image.Rect(0, 0, 4, 4))))
}

func TestDevice_InjectedFailures(t *testing.T) {
	dev := synthetic.New(qrtest.Blank(4, 4, color.RGBA{A: 255}))
	boom := errors.New("boom")
	dev.FailNext(boom)

	_, err := dev.Open(context.Background(), camera.Constraints{})
	assert.ErrorIs(t, err, boom)

	_, err = dev.Open(context.Background(), camera.Constraints{})
	assert.NoError(t, err)
	assert.Len(t, dev.Opens(), 2)
}

func TestDevice_WithoutFacing(t *testing.T) {
	dev := synthetic.New(qrtest.Blank(4, 4, color.RGBA{A: 255})).WithoutFacing(camera.FacingEnvironment)

	_, err := dev.Open(context.Background(), camera.Constraints{Facing: camera.FacingEnvironment})
	assert.Equal(t, camera.KindConstraintsUnsatisfiable, camera.KindOf(err))

	_, err = dev.Open(context.Background(), camera.Constraints{Facing: camera.FacingAny})
	assert.NoError(t, err)
}

func TestDevice_NoFrames(t *testing.T) {
	_, err := synthetic.New().Open(context.Background(), camera.Constraints{})
	assert.Equal(t, camera.KindNoDeviceFound, camera.KindOf(err))
}

func TestDevice_HoldRespectsContext(t *testing.T) {
	dev := synthetic.New(qrtest.Blank(4, 4, color.RGBA{A: 255}))
	release := dev.Hold(false)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dev.Open(ctx, camera.Constraints{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.png", "a.png"} {
		f, err := os.Create(filepath.Join(dir, name))
		require.NoError(t, err)
		c := color.RGBA{R: 10, A: 255}
		if name == "b.png" {
			c = color.RGBA{G: 10, A: 255}
		}
		require.NoError(t, png.Encode(f, qrtest.Blank(8, 8, c)))
		require.NoError(t, f.Close())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	dev, err := synthetic.FromDir(dir)
	require.NoError(t, err)

	s, err := dev.Open(context.Background(), camera.Constraints{})
	require.NoError(t, err)

	dst := image.NewRGBA(image.Rect(0, 0, 8, 8))
	require.True(t, draw(s, dst))
	assert.Equal(t, uint8(10), dst.RGBAAt(0, 0).R, "a.png first")
	require.True(t, draw(s, dst))
	assert.Equal(t, uint8(10), dst.RGBAAt(0, 0).G)
}

func TestFromDir_Empty(t *testing.T) {
	_, err := synthetic.FromDir(t.TempDir())
	assert.Error(t, err)
}
