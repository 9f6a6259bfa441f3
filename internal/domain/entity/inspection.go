package entity

import (
	"path/filepath"
	"strings"
	"time"
)

// TimestampLayout формат метки времени в именах файлов.
const TimestampLayout = "20060102_150405"

// Inspection одна проверка узла: создаётся при съёмке, завершается после детекции.
type Inspection struct {
	ID           string      // уникальный идентификатор записи
	VIN          string      // VIN автомобиля
	Model        string      // модель автомобиля
	CapturedAt   time.Time   // момент съёмки
	CapturedPath string      // путь к исходному кадру
	DetectedPath string      // путь к кадру с разметкой
	Frame        Frame       // исходный кадр, не размеченный
	Counts       ClassCounts // подсчёт по классам
	Verdict      Verdict     // итог poke-yoke
	DetectedAt   time.Time   // момент завершения детекции
}

// Finalized сообщает, что детекция уже выполнена и результат записан.
func (i *Inspection) Finalized() bool {
	return !i.DetectedAt.IsZero()
}

// Stamp возвращает метку времени съёмки для имён файлов.
func (i *Inspection) Stamp() string {
	return i.CapturedAt.Format(TimestampLayout)
}

// ValidateVIN проверяет, что VIN годится как часть имени файла.
func ValidateVIN(vin string) error {
	vin = strings.TrimSpace(vin)
	if vin == "" || vin == "." || vin == ".." {
		return ErrInvalidVIN
	}
	if strings.ContainsAny(vin, `/\`) || filepath.Base(vin) != vin {
		return ErrInvalidVIN
	}
	return nil
}
