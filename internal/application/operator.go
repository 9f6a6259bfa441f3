package app

import (
	"context"
	"strings"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// OperatorService ведёт диалог оператора: VIN, модель, съёмка.
type OperatorService struct {
	repo port.OperatorRepository
}

func NewOperatorService(repo port.OperatorRepository) *OperatorService {
	return &OperatorService{repo: repo}
}

func (s *OperatorService) Get(ctx context.Context, userID, chatID int64) (*entity.Operator, error) {
	return s.repo.Get(ctx, userID, chatID)
}

func (s *OperatorService) SetState(ctx context.Context, userID, chatID int64, state entity.OperatorState) (*entity.Operator, error) {
	op, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateState(ctx, op.ID, state); err != nil {
		return nil, err
	}
	op.SetState(state)

	return op, nil
}

// BeginInspection сбрасывает прошлые данные и ждёт VIN.
func (s *OperatorService) BeginInspection(ctx context.Context, userID, chatID int64) (*entity.Operator, error) {
	op, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	op.Reset()
	op.SetState(entity.StateAwaitingVIN)
	if err := s.repo.Save(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// SubmitVIN запоминает VIN и переходит к вводу модели.
func (s *OperatorService) SubmitVIN(ctx context.Context, userID, chatID int64, vin string) (*entity.Operator, error) {
	vin = strings.TrimSpace(vin)
	if err := entity.ValidateVIN(vin); err != nil {
		return nil, err
	}

	op, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	op.VIN = vin
	op.SetState(entity.StateAwaitingModel)
	if err := s.repo.Save(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// SubmitModel запоминает модель; оператор готов к съёмке.
func (s *OperatorService) SubmitModel(ctx context.Context, userID, chatID int64, model string) (*entity.Operator, error) {
	op, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	op.Model = strings.TrimSpace(model)
	op.SetState(entity.StateReady)
	if err := s.repo.Save(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

func (s *OperatorService) Cancel(ctx context.Context, userID, chatID int64) (*entity.Operator, error) {
	op, err := s.repo.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}

	op.Reset()
	if err := s.repo.Save(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}
