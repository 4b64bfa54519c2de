package source

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/clipopera/internal/media"
	"github.com/maauso/clipopera/internal/storage"
)

// countingStorage records how often each temp file is cleaned up.
type countingStorage struct {
	*storage.LocalStorage

	mu       sync.Mutex
	cleanups map[string]int
}

func newCountingStorage(t *testing.T) *countingStorage {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	return &countingStorage{LocalStorage: local, cleanups: make(map[string]int)}
}

func (s *countingStorage) CleanupTemp(ctx context.Context, paths []string) error {
	s.mu.Lock()
	for _, p := range paths {
		s.cleanups[p]++
	}
	s.mu.Unlock()
	return s.LocalStorage.CleanupTemp(ctx, paths)
}

func (s *countingStorage) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cleanups[path]
}

type mockProber struct {
	mock.Mock
}

func (m *mockProber) Probe(ctx context.Context, path string) (media.Info, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.Info), args.Error(1)
}

// playerFunc adapts a function to media.Player.
type playerFunc func(ctx context.Context, path string, w, h int, sink media.FrameSink) error

func (f playerFunc) Play(ctx context.Context, path string, w, h int, sink media.FrameSink) error {
	return f(ctx, path, w, h, sink)
}

// livePlayer emits one frame and then blocks until cancelled.
func livePlayer(c color.RGBA) playerFunc {
	return func(ctx context.Context, _ string, w, h int, sink media.FrameSink) error {
		frame := image.NewRGBA(image.Rect(0, 0, w, h))
		for i := 0; i < len(frame.Pix); i += 4 {
			frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2], frame.Pix[i+3] = c.R, c.G, c.B, c.A
		}
		sink(frame)
		<-ctx.Done()
		return ctx.Err()
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// pngHeader returns a PNG holding only a signature, an IHDR declaring w x h
// RGBA pixels and an IEND chunk.
func pngHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	chunk := func(typ string, data []byte) {
		_ = binary.Write(&buf, binary.BigEndian, uint32(len(data)))
		crc := crc32.NewIEEE()
		crc.Write([]byte(typ))
		crc.Write(data)
		buf.WriteString(typ)
		buf.Write(data)
		_ = binary.Write(&buf, binary.BigEndian, crc.Sum32())
	}
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha
	chunk("IHDR", ihdr)
	chunk("IEND", nil)
	return buf.Bytes()
}

func newTestManager(t *testing.T, store storage.Storage, prober media.Prober, player media.Player) *Manager {
	t.Helper()
	m := NewManager(store, prober, player, time.Second, nil)
	t.Cleanup(m.Close)
	return m
}

func TestNewManager_Defaults(t *testing.T) {
	m := NewManager(nil, nil, nil, 0, nil)
	assert.Equal(t, DefaultLoadTimeout, m.loadTimeout)
	assert.Equal(t, DefaultMaxPixels, m.maxPixels)
	assert.NotNil(t, m.logger)
	assert.Nil(t, m.Current())
}

func TestManager_LoadImage(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)

	h, err := m.Load(context.Background(), File{
		Name:        "photo.png",
		ContentType: "image/png",
		Body:        bytes.NewReader(pngBytes(t, 40, 20)),
	})
	require.NoError(t, err)

	assert.Equal(t, KindImage, h.Kind())
	assert.Equal(t, "photo.png", h.Name())
	assert.True(t, h.Still())
	assert.False(t, h.Playing())
	assert.NoError(t, h.Err())

	w, ht := h.Size()
	assert.Equal(t, 40, w)
	assert.Equal(t, 20, ht)
	assert.NotNil(t, h.Frame())
	assert.Same(t, h, m.Current())
}

func TestManager_LoadRejectsUnsupportedType(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)

	tests := []struct {
		name string
		file File
	}{
		{"declared text", File{Name: "a.txt", ContentType: "text/plain", Body: strings.NewReader("hello")}},
		{"declared audio", File{Name: "a.mp3", ContentType: "audio/mpeg", Body: strings.NewReader("x")}},
		{"sniffed text", File{Name: "a.bin", ContentType: "application/octet-stream", Body: strings.NewReader("just some text")}},
		{"nil body", File{Name: "a.png", ContentType: "image/png"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Load(context.Background(), tt.file)
			assert.ErrorIs(t, err, ErrUnsupportedType)
			assert.Nil(t, m.Current())
		})
	}
}

func TestManager_LoadSniffsMissingType(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)

	h, err := m.Load(context.Background(), File{
		Name: "upload",
		Body: bytes.NewReader(pngBytes(t, 8, 8)),
	})
	require.NoError(t, err)
	assert.Equal(t, KindImage, h.Kind())

	w, ht := h.Size()
	assert.Equal(t, 8, w)
	assert.Equal(t, 8, ht)
}

func TestManager_LoadCorruptImage(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)

	_, err := m.Load(context.Background(), File{
		Name:        "broken.png",
		ContentType: "image/png",
		Body:        strings.NewReader("definitely not a png"),
	})
	require.ErrorIs(t, err, ErrLoadTimeout)
	assert.Nil(t, m.Current())

	entries, err := os.ReadDir(store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file must be removed after a failed load")
}

func TestManager_ReplaceReleasesPreviousOnce(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)
	ctx := context.Background()

	a, err := m.Load(ctx, File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 4, 4))})
	require.NoError(t, err)
	pathA := a.(*imageHandle).path

	b, err := m.Load(ctx, File{Name: "b.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 6, 6))})
	require.NoError(t, err)
	pathB := b.(*imageHandle).path

	assert.Equal(t, 1, store.count(pathA))
	assert.Equal(t, 0, store.count(pathB))
	assert.Same(t, b, m.Current())

	// releasing again is a no-op
	a.Release()
	assert.Equal(t, 1, store.count(pathA))

	_, err = os.Stat(pathA)
	assert.True(t, os.IsNotExist(err))
}

func TestManager_FailedLoadKeepsPrevious(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)
	ctx := context.Background()

	a, err := m.Load(ctx, File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 4, 4))})
	require.NoError(t, err)

	_, err = m.Load(ctx, File{Name: "b.png", ContentType: "image/png", Body: strings.NewReader("garbage")})
	require.Error(t, err)

	assert.Same(t, a, m.Current())
	assert.Equal(t, 0, store.count(a.(*imageHandle).path))
}

func TestManager_LoadVideo(t *testing.T) {
	store := newCountingStorage(t)
	prober := &mockProber{}
	prober.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Width: 1920, Height: 1080}, nil)

	m := newTestManager(t, store, prober, livePlayer(color.RGBA{R: 255, A: 255}))

	h, err := m.Load(context.Background(), File{Name: "clip.mp4", ContentType: "video/mp4", Body: strings.NewReader("video")})
	require.NoError(t, err)

	assert.Equal(t, KindVideo, h.Kind())
	assert.False(t, h.Still())
	assert.True(t, h.Playing())

	w, ht := h.Size()
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, ht)

	frame := h.Frame()
	require.NotNil(t, frame)
	// decoded frames are capped, intrinsic size is still reported
	assert.Equal(t, image.Rect(0, 0, 1280, 720), frame.Bounds())
	assert.Equal(t, color.RGBA{R: 255, A: 255}, frame.(*image.RGBA).RGBAAt(0, 0))

	path := h.(*videoHandle).path
	m.Close()
	assert.Equal(t, 1, store.count(path))
	assert.False(t, h.Playing())
	assert.Nil(t, m.Current())
	prober.AssertExpectations(t)
}

func TestManager_VideoKeepsLastFrameAfterEnd(t *testing.T) {
	store := newCountingStorage(t)
	prober := &mockProber{}
	prober.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Width: 4, Height: 2}, nil)

	ended := make(chan struct{})
	player := playerFunc(func(_ context.Context, _ string, w, h int, sink media.FrameSink) error {
		defer close(ended)
		sink(image.NewRGBA(image.Rect(0, 0, w, h)))
		return nil
	})
	m := newTestManager(t, store, prober, player)

	h, err := m.Load(context.Background(), File{Name: "short.webm", ContentType: "video/webm", Body: strings.NewReader("v")})
	require.NoError(t, err)

	<-ended
	require.Eventually(t, func() bool { return !h.Playing() }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, h.Frame())
	assert.NoError(t, h.Err())
}

func TestManager_VideoWithoutFrames(t *testing.T) {
	store := newCountingStorage(t)
	prober := &mockProber{}
	prober.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Width: 4, Height: 2}, nil)
	player := playerFunc(func(context.Context, string, int, int, media.FrameSink) error { return nil })
	m := newTestManager(t, store, prober, player)

	_, err := m.Load(context.Background(), File{Name: "empty.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.ErrorIs(t, err, ErrLoadTimeout)
	assert.ErrorIs(t, err, ErrNoVideoFrames)
}

func TestManager_VideoProbeFailure(t *testing.T) {
	store := newCountingStorage(t)
	prober := &mockProber{}
	prober.On("Probe", mock.Anything, mock.Anything).Return(media.Info{}, media.ErrNoVideoStream)
	m := newTestManager(t, store, prober, livePlayer(color.RGBA{}))

	_, err := m.Load(context.Background(), File{Name: "x.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.ErrorIs(t, err, ErrLoadTimeout)
	assert.ErrorIs(t, err, media.ErrNoVideoStream)
}

func TestManager_LoadTimeout(t *testing.T) {
	store := newCountingStorage(t)
	prober := &mockProber{}
	prober.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Width: 4, Height: 2}, nil)

	// never produces a frame
	player := playerFunc(func(ctx context.Context, _ string, _, _ int, _ media.FrameSink) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := NewManager(store, prober, player, 20*time.Millisecond, nil)
	defer m.Close()

	start := time.Now()
	_, err := m.Load(context.Background(), File{Name: "stuck.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
	require.ErrorIs(t, err, ErrLoadTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Nil(t, m.Current())

	entries, err := os.ReadDir(store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_RejectsOversizedImageHeader(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)

	previous, err := m.Load(context.Background(), File{Name: "small.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 4, 4))})
	require.NoError(t, err)

	// 200000x200000 RGBA would need 160 GB if decoded.
	data := pngHeader(200_000, 200_000)
	require.Less(t, len(data), 100)

	start := time.Now()
	_, err = m.Load(context.Background(), File{Name: "bomb.png", ContentType: "image/png", Body: bytes.NewReader(data)})
	require.ErrorIs(t, err, ErrSourceTooLarge)
	assert.ErrorIs(t, err, ErrLoadTimeout)
	assert.Less(t, time.Since(start), time.Second)
	assert.Same(t, previous, m.Current())
}

func TestManager_WithMaxPixels(t *testing.T) {
	t.Run("image over budget", func(t *testing.T) {
		store := newCountingStorage(t)
		m := NewManager(store, nil, nil, time.Second, nil, WithMaxPixels(100))
		defer m.Close()

		_, err := m.Load(context.Background(), File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 20, 10))})
		require.ErrorIs(t, err, ErrSourceTooLarge)
		assert.Nil(t, m.Current())

		entries, err := os.ReadDir(store.TempDir())
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("image within budget", func(t *testing.T) {
		store := newCountingStorage(t)
		m := NewManager(store, nil, nil, time.Second, nil, WithMaxPixels(200))
		defer m.Close()

		_, err := m.Load(context.Background(), File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 20, 10))})
		require.NoError(t, err)
	})

	t.Run("video over budget", func(t *testing.T) {
		store := newCountingStorage(t)
		prober := &mockProber{}
		prober.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Width: 7680, Height: 4320}, nil)
		var played atomic.Bool
		player := playerFunc(func(context.Context, string, int, int, media.FrameSink) error {
			played.Store(true)
			return nil
		})
		m := NewManager(store, prober, player, time.Second, nil, WithMaxPixels(1920*1080))
		defer m.Close()

		_, err := m.Load(context.Background(), File{Name: "big.mp4", ContentType: "video/mp4", Body: strings.NewReader("v")})
		require.ErrorIs(t, err, ErrSourceTooLarge)
		assert.False(t, played.Load())
	})

	t.Run("non-positive keeps default", func(t *testing.T) {
		m := NewManager(nil, nil, nil, 0, nil, WithMaxPixels(0))
		assert.Equal(t, DefaultMaxPixels, m.maxPixels)
	})
}

func TestManager_StageDoesNotInstall(t *testing.T) {
	store := newCountingStorage(t)
	m := newTestManager(t, store, nil, nil)

	h, err := m.Stage(context.Background(), File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 2, 2))})
	require.NoError(t, err)
	assert.Nil(t, m.Current())

	require.NoError(t, m.Install(h))
	assert.Same(t, h, m.Current())

	m.Close()
	other, err := NewManager(store, nil, nil, time.Second, nil).Stage(context.Background(), File{Name: "b.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 2, 2))})
	require.NoError(t, err)
	assert.ErrorIs(t, m.Install(other), ErrManagerClosed)

	entries, err := os.ReadDir(store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestManager_LoadAfterClose(t *testing.T) {
	store := newCountingStorage(t)
	m := NewManager(store, nil, nil, time.Second, nil)
	m.Close()

	_, err := m.Load(context.Background(), File{Name: "a.png", ContentType: "image/png", Body: bytes.NewReader(pngBytes(t, 2, 2))})
	assert.True(t, errors.Is(err, ErrManagerClosed))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        Kind
		wantErr     bool
	}{
		{"png", "image/png", KindImage, false},
		{"jpeg with params", "image/jpeg; charset=binary", KindImage, false},
		{"upper case", "VIDEO/MP4", KindVideo, false},
		{"quicktime", "video/quicktime", KindVideo, false},
		{"json", "application/json", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, body, err := classify(File{ContentType: tt.contentType, Body: strings.NewReader("x")})
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedType)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
			assert.NotNil(t, body)
		})
	}
}

func TestClassify_SniffReplaysBody(t *testing.T) {
	data := pngBytes(t, 3, 3)
	kind, body, err := classify(File{Body: bytes.NewReader(data)})
	require.NoError(t, err)
	assert.Equal(t, KindImage, kind)

	var got bytes.Buffer
	_, err = got.ReadFrom(body)
	require.NoError(t, err)
	assert.Equal(t, data, got.Bytes())
}

func TestDecodeSize(t *testing.T) {
	tests := []struct {
		w, h, wantW, wantH int
	}{
		{640, 480, 640, 480},
		{1920, 1080, 1280, 720},
		{1080, 1920, 720, 1280},
		{4000, 3, 1280, 2},
	}
	for _, tt := range tests {
		w, h := decodeSize(tt.w, tt.h, maxDecodeEdge)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}
