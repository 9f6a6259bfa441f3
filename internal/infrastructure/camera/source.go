package camera

import (
	"context"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

const (
	// DefaultInterval пауза между чтениями кадров в фоновом цикле.
	DefaultInterval = 10 * time.Millisecond
	// DefaultPollInterval период опроса буфера в Capture.
	DefaultPollInterval = 50 * time.Millisecond
	// DefaultCaptureTimeout ожидание первого кадра по умолчанию.
	DefaultCaptureTimeout = 5 * time.Second
	// DefaultStopGrace сколько Stop ждёт выхода цикла до освобождения устройства.
	DefaultStopGrace = 200 * time.Millisecond
)

// State состояние источника кадров.
type State int32

const (
	StateUninitialized State = iota
	StateStarting
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// Options настройки Source. Нулевые значения заменяются значениями по умолчанию.
type Options struct {
	Name         string
	Interval     time.Duration
	PollInterval time.Duration
	StopGrace    time.Duration
	Clock        clock.Clock
	Logger       *zap.SugaredLogger
}

// Stats счётчики фонового цикла.
type Stats struct {
	Frames   uint64 // успешно прочитанные кадры
	Failures uint64 // неудачные чтения
}

// Source держит камеру открытой и в фоне обновляет последний кадр.
// Снимок берётся из буфера, а не с устройства.
type Source struct {
	device       port.CaptureDevice
	name         string
	interval     time.Duration
	pollInterval time.Duration
	stopGrace    time.Duration
	clock        clock.Clock
	logger       *zap.SugaredLogger

	lifecycle sync.Mutex // Start/Stop и state
	state     State
	stop      chan struct{}
	done      chan struct{}
	released  chan struct{} // закрыт, когда устройство прошлого запуска освобождено

	mu     sync.Mutex // latest и seq; писатель только фоновый цикл
	latest *image.RGBA
	seq    uint64

	failures atomic.Uint64
}

// NewSource создаёт источник кадров поверх устройства.
func NewSource(device port.CaptureDevice, opts Options) *Source {
	s := &Source{
		device:       device,
		name:         opts.Name,
		interval:     opts.Interval,
		pollInterval: opts.PollInterval,
		stopGrace:    opts.StopGrace,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
	if s.name == "" {
		s.name = "camera"
	}
	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.stopGrace <= 0 {
		s.stopGrace = DefaultStopGrace
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.logger == nil {
		s.logger = zap.NewNop().Sugar()
	}
	s.logger = s.logger.With("source", s.name)
	return s
}

// Start открывает устройство и запускает фоновый цикл захвата.
// Повторный Start на работающем источнике ничего не делает.
func (s *Source) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.state == StateRunning {
		return nil
	}

	// Цикл прошлого запуска мог не уложиться в stopGrace: устройство
	// закрывается только после его выхода.
	if s.released != nil {
		select {
		case <-s.released:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.state = StateStarting
	if err := s.device.Open(); err != nil {
		s.state = StateUninitialized
		if errors.Is(err, entity.ErrDeviceOpen) {
			return err
		}
		return errors.Wrapf(entity.ErrDeviceOpen, "%s: %v", s.name, err)
	}

	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()
	s.failures.Store(0)

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.acquire(s.stop, s.done)

	s.state = StateRunning
	s.logger.Infow("frame source started", "interval", s.interval)
	return nil
}

// acquire фоновый цикл: читает кадр, подменяет буфер, ждёт interval.
func (s *Source) acquire(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-stop:
			return
		default:
		}

		img, err := s.device.Read()
		switch {
		case errors.Is(err, entity.ErrNoFrame):
			s.logger.Debugw("no frame yet")
		case err != nil:
			// Камера иногда сбоит, цикл продолжает работу.
			if n := s.failures.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warnw("frame grab failed", "error", err, "failures", n)
			}
		case img != nil:
			s.store(stop, img)
		}

		select {
		case <-stop:
			return
		case <-s.clock.After(s.interval):
		}
	}
}

// store подменяет буфер, если запуск, прочитавший кадр, ещё не остановлен.
func (s *Source) store(stop <-chan struct{}, img *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-stop:
		return
	default:
	}
	s.latest = img
	s.seq++
}

// Capture возвращает копию последнего кадра.
// Ждёт не дольше timeout (0 - DefaultCaptureTimeout). Stop не прерывает
// ожидание: вызов завершится по таймауту.
func (s *Source) Capture(ctx context.Context, timeout time.Duration) (entity.Frame, error) {
	if !s.IsInitialized() {
		return entity.Frame{}, entity.ErrNotInitialized
	}
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}

	deadline := s.clock.Now().Add(timeout)
	for {
		if frame, ok := s.snapshot(); ok {
			return frame, nil
		}

		remaining := s.clock.Until(deadline)
		if remaining <= 0 {
			return entity.Frame{}, errors.Wrapf(entity.ErrCaptureTimeout, "%s: waited %s", s.name, timeout)
		}
		wait := s.pollInterval
		if remaining < wait {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return entity.Frame{}, ctx.Err()
		case <-s.clock.After(wait):
		}
	}
}

// snapshot копирует буфер под блокировкой.
func (s *Source) snapshot() (entity.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.latest == nil {
		return entity.Frame{}, false
	}
	return entity.Frame{Image: entity.CloneRGBA(s.latest), Seq: s.seq}, true
}

// IsInitialized true, если устройство открыто и цикл работает.
func (s *Source) IsInitialized() bool {
	return s.State() == StateRunning
}

// State возвращает текущее состояние.
func (s *Source) State() State {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.state
}

// Stats возвращает счётчики цикла.
func (s *Source) Stats() Stats {
	s.mu.Lock()
	frames := s.seq
	s.mu.Unlock()
	return Stats{Frames: frames, Failures: s.failures.Load()}
}

// Stop останавливает цикл и освобождает устройство. Повторный вызов - no-op.
// Если цикл не вышел за stopGrace (завис в Read), устройство закроется
// после его выхода, а ошибка закрытия попадёт только в лог.
func (s *Source) Stop() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if s.state != StateRunning {
		return nil
	}

	close(s.stop)

	s.mu.Lock()
	s.latest = nil
	s.mu.Unlock()

	done := s.done
	released := make(chan struct{})
	s.released = released
	s.state = StateStopped

	var err error
	select {
	case <-done:
		err = s.device.Close()
		close(released)
	case <-s.clock.After(s.stopGrace):
		s.logger.Warnw("acquisition loop did not stop in time, device is released after it exits", "grace", s.stopGrace)
		go func() {
			<-done
			if err := s.device.Close(); err != nil {
				s.logger.Warnw("close device", "error", err)
			}
			close(released)
		}()
	}

	s.logger.Infow("frame source stopped")

	if err != nil {
		return errors.Wrapf(err, "%s: close device", s.name)
	}
	return nil
}

var _ port.FrameSource = (*Source)(nil)
