package storage

import (
	"context"
	"sync"

	"bolt-vision/internal/domain/entity"
	"bolt-vision/internal/domain/port"
)

// MemoryOperatorRepository in-memory хранилище операторов
type MemoryOperatorRepository struct {
	mu        sync.RWMutex
	operators map[int64]*entity.Operator
}

// NewMemoryOperatorRepository создаёт новое in-memory хранилище
func NewMemoryOperatorRepository() *MemoryOperatorRepository {
	return &MemoryOperatorRepository{
		operators: make(map[int64]*entity.Operator),
	}
}

// Get возвращает копию оператора по ID, создаёт нового если не найден
func (r *MemoryOperatorRepository) Get(ctx context.Context, userID, chatID int64) (*entity.Operator, error) {
	r.mu.RLock()
	op, exists := r.operators[userID]
	r.mu.RUnlock()

	if exists {
		cp := *op
		return &cp, nil
	}

	// Создаём нового оператора
	newOp := entity.NewOperator(userID, chatID)

	r.mu.Lock()
	if op, exists := r.operators[userID]; exists {
		r.mu.Unlock()
		cp := *op
		return &cp, nil
	}
	stored := *newOp
	r.operators[userID] = &stored
	r.mu.Unlock()

	return newOp, nil
}

// Save сохраняет состояние оператора
func (r *MemoryOperatorRepository) Save(ctx context.Context, op *entity.Operator) error {
	cp := *op
	r.mu.Lock()
	r.operators[op.ID] = &cp
	r.mu.Unlock()

	return nil
}

// UpdateState обновляет состояние оператора
func (r *MemoryOperatorRepository) UpdateState(ctx context.Context, userID int64, state entity.OperatorState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if op, exists := r.operators[userID]; exists {
		op.SetState(state)
	}

	return nil
}

// Проверка реализации интерфейса
var _ port.OperatorRepository = (*MemoryOperatorRepository)(nil)
