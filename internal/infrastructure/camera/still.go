package camera

import (
	"image"
	"sync"

	"github.com/pkg/errors"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// Still устройство без камеры: кадры приходят снаружи через Push
// (снимок из браузера или фото из чата).
type Still struct {
	mu   sync.Mutex
	open bool
	img  *image.RGBA
}

// NewStill создаёт пустое устройство.
func NewStill() *Still {
	return &Still{}
}

// Open помечает устройство открытым.
func (s *Still) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = true
	return nil
}

// Push сохраняет копию снимка; следующий Read вернёт его.
func (s *Still) Push(img image.Image) {
	rgba := entity.ToRGBA(img)
	s.mu.Lock()
	s.img = rgba
	s.mu.Unlock()
}

// Read возвращает копию последнего снимка или entity.ErrNoFrame.
func (s *Still) Read() (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil, errors.New("still device is closed")
	}
	if s.img == nil {
		return nil, entity.ErrNoFrame
	}
	return entity.CloneRGBA(s.img), nil
}

// Close закрывает устройство и забывает снимок.
func (s *Still) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	s.img = nil
	return nil
}

var _ port.CaptureDevice = (*Still)(nil)
