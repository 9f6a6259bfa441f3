package port

import (
	"context"
	"image"
	"time"

	"bolt-vision/internal/domain/entity"
)

// CaptureDevice конкретная камера
type CaptureDevice interface {
	// Open захватывает устройство
	Open() error
	// Read читает один кадр; возвращённый буфер принадлежит вызывающему
	Read() (*image.RGBA, error)
	// Close освобождает устройство
	Close() error
}

// FrameSource источник кадров с фоновым циклом захвата
type FrameSource interface {
	Start(ctx context.Context) error
	// Capture возвращает копию последнего кадра, ожидая не дольше timeout
	Capture(ctx context.Context, timeout time.Duration) (entity.Frame, error)
	IsInitialized() bool
	Stop() error
}
