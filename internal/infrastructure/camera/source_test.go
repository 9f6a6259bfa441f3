package camera

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"bolt-vision/internal/domain/entity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubDevice отдаёт кадры, залитые номером чтения.
type stubDevice struct {
	mu       sync.Mutex
	openErr  error
	failures int // сколько первых чтений завершатся ошибкой
	noFrames bool
	size     int
	delay    time.Duration // длительность каждого Read
	reads    int
	opens    int
	closes   int

	reading       int  // Read в процессе
	closedReading bool // Close пришёл во время Read
}

func newStubDevice(size int) *stubDevice {
	return &stubDevice{size: size}
}

func (d *stubDevice) Open() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	return d.openErr
}

// Read отдаёт кадр: R и B - номер чтения, G - номер открытия.
func (d *stubDevice) Read() (*image.RGBA, error) {
	d.mu.Lock()
	d.reads++
	reads, session := d.reads, d.opens
	d.reading++
	d.mu.Unlock()

	time.Sleep(d.delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.reading--
	if d.noFrames {
		return nil, entity.ErrNoFrame
	}
	if reads <= d.failures {
		return nil, errors.New("usb hiccup")
	}
	img := image.NewRGBA(image.Rect(0, 0, d.size, d.size))
	v := uint8(reads % 256)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, uint8(session), v, 255
	}
	return img, nil
}

func (d *stubDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closes++
	if d.reading > 0 {
		d.closedReading = true
	}
	return nil
}

func (d *stubDevice) snapshot() (reading, closes int, closedReading bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reading, d.closes, d.closedReading
}

func newTestSource(t *testing.T, dev *stubDevice) *Source {
	t.Helper()
	return NewSource(dev, Options{Name: "stub", Logger: zaptest.NewLogger(t).Sugar()})
}

func TestSource_CaptureBeforeStart(t *testing.T) {
	src := newTestSource(t, newStubDevice(10))

	_, err := src.Capture(context.Background(), time.Second)
	require.ErrorIs(t, err, entity.ErrNotInitialized)
	require.False(t, src.IsInitialized())
	require.Equal(t, StateUninitialized, src.State())
}

func TestSource_StartOpenFailure(t *testing.T) {
	dev := newStubDevice(10)
	dev.openErr = errors.New("device busy")
	src := newTestSource(t, dev)

	err := src.Start(context.Background())
	require.ErrorIs(t, err, entity.ErrDeviceOpen)
	require.Contains(t, err.Error(), "device busy")
	require.Equal(t, StateUninitialized, src.State())
	require.False(t, src.IsInitialized())
}

func TestSource_CaptureReturnsFrame(t *testing.T) {
	src := newTestSource(t, newStubDevice(100))
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	require.True(t, src.IsInitialized())

	frame, err := src.Capture(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 100, frame.Width())
	require.Equal(t, 100, frame.Height())
	require.NotZero(t, frame.Seq)
}

func TestSource_CaptureIsCopy(t *testing.T) {
	src := newTestSource(t, newStubDevice(8))
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	frame, err := src.Capture(context.Background(), time.Second)
	require.NoError(t, err)
	before := append([]uint8(nil), frame.Image.Pix...)

	// Даём циклу сделать ещё несколько записей в буфер.
	require.Eventually(t, func() bool {
		return src.Stats().Frames >= frame.Seq+3
	}, 2*time.Second, 5*time.Millisecond)

	require.Equal(t, before, frame.Image.Pix)

	// Изменение копии не портит буфер источника.
	for i := range frame.Image.Pix {
		frame.Image.Pix[i] = 1
	}
	next, err := src.Capture(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, uint8(255), next.Image.Pix[3])
	require.NotEqual(t, frame.Image.Pix[3], next.Image.Pix[3])
}

func TestSource_CaptureTimeout(t *testing.T) {
	dev := newStubDevice(10)
	dev.noFrames = true
	src := newTestSource(t, dev)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	timeout := 150 * time.Millisecond
	started := time.Now()
	_, err := src.Capture(context.Background(), timeout)
	elapsed := time.Since(started)

	require.ErrorIs(t, err, entity.ErrCaptureTimeout)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, timeout+200*time.Millisecond)
}

func TestSource_CaptureContextCancelled(t *testing.T) {
	dev := newStubDevice(10)
	dev.noFrames = true
	src := newTestSource(t, dev)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	_, err := src.Capture(ctx, 5*time.Second)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSource_ReadFailuresAreTolerated(t *testing.T) {
	dev := newStubDevice(4)
	dev.failures = 5
	src := newTestSource(t, dev)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	_, err := src.Capture(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, uint64(5), src.Stats().Failures)
	require.True(t, src.IsInitialized())
}

func TestSource_StopIsIdempotent(t *testing.T) {
	dev := newStubDevice(4)
	src := newTestSource(t, dev)

	require.NoError(t, src.Stop())

	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Stop())
	require.NoError(t, src.Stop())

	require.Equal(t, StateStopped, src.State())
	require.False(t, src.IsInitialized())
	require.Equal(t, 1, dev.closes)

	_, err := src.Capture(context.Background(), 100*time.Millisecond)
	require.ErrorIs(t, err, entity.ErrNotInitialized)
}

func TestSource_RestartAfterStop(t *testing.T) {
	dev := newStubDevice(4)
	src := newTestSource(t, dev)

	require.NoError(t, src.Start(context.Background()))
	require.NoError(t, src.Start(context.Background()))
	require.Equal(t, 1, dev.opens)
	require.NoError(t, src.Stop())

	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()
	require.Equal(t, 2, dev.opens)

	_, err := src.Capture(context.Background(), time.Second)
	require.NoError(t, err)
}

func TestSource_StopDuringSlowRead(t *testing.T) {
	dev := newStubDevice(4)
	dev.delay = 300 * time.Millisecond
	src := NewSource(dev, Options{Name: "slow", StopGrace: 20 * time.Millisecond, Logger: zaptest.NewLogger(t).Sugar()})

	require.NoError(t, src.Start(context.Background()))
	require.Eventually(t, func() bool {
		reading, _, _ := dev.snapshot()
		return reading > 0
	}, time.Second, time.Millisecond)

	require.NoError(t, src.Stop())
	require.False(t, src.IsInitialized())
	_, closes, _ := dev.snapshot()
	require.Zero(t, closes, "device must stay open while Read is in flight")

	// Новый запуск ждёт, пока прошлый цикл отпустит устройство.
	require.NoError(t, src.Start(context.Background()))
	_, closes, closedReading := dev.snapshot()
	require.Equal(t, 1, closes)
	require.False(t, closedReading)

	frame, err := src.Capture(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, uint8(2), frame.Image.Pix[1], "frame must come from the current session")

	require.NoError(t, src.Stop())
	require.Eventually(t, func() bool {
		_, closes, _ := dev.snapshot()
		return closes == 2
	}, 2*time.Second, 5*time.Millisecond)
	_, _, closedReading = dev.snapshot()
	require.False(t, closedReading)
}

func TestStill_PushAndRead(t *testing.T) {
	still := NewStill()
	_, err := still.Read()
	require.Error(t, err)

	require.NoError(t, still.Open())
	_, err = still.Read()
	require.ErrorIs(t, err, entity.ErrNoFrame)

	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.RGBA{R: 10, A: 255})
	still.Push(img)
	img.Set(1, 1, color.RGBA{R: 99, A: 255})

	got, err := still.Read()
	require.NoError(t, err)
	require.Equal(t, color.RGBA{R: 10, A: 255}, got.RGBAAt(1, 1))

	require.NoError(t, still.Close())
	_, err = still.Read()
	require.Error(t, err)
}

func TestStill_FeedsSource(t *testing.T) {
	still := NewStill()
	src := NewSource(still, Options{Name: "browser"})
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	still.Push(image.NewRGBA(image.Rect(0, 0, 32, 24)))

	frame, err := src.Capture(context.Background(), time.Second)
	require.NoError(t, err)
	require.Equal(t, 32, frame.Width())
	require.Equal(t, 24, frame.Height())
}

func TestWebcam_StubWithoutGoCV(t *testing.T) {
	src := NewSource(NewWebcam(0, 0, 0), Options{})
	err := src.Start(context.Background())
	if err == nil {
		// собрано с тегом gocv и камера есть
		require.NoError(t, src.Stop())
		return
	}
	require.ErrorIs(t, err, entity.ErrDeviceOpen)
}
