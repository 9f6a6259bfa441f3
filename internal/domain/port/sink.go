package port

import (
	"context"
	"image"

	"bolt-vision/internal/domain/entity"
)

// InspectionSink журнал результатов проверок (только добавление)
type InspectionSink interface {
	// Name имя журнала для сообщений об ошибках
	Name() string
	// Record записывает завершённую проверку
	Record(ctx context.Context, insp *entity.Inspection) error
}

// ImageStore хранилище снимков
type ImageStore interface {
	// SaveCaptured сохраняет исходный кадр и возвращает путь
	SaveCaptured(insp *entity.Inspection) (string, error)
	// SaveDetected сохраняет размеченный кадр и возвращает путь
	SaveDetected(insp *entity.Inspection, annotated *image.RGBA) (string, error)
}
