package entity

// Verdict итог poke-yoke проверки.
type Verdict string

const (
	VerdictOK    Verdict = "OK"
	VerdictNotOK Verdict = "NOT OK"
)

// DefaultExpectedFixed ожидаемое число затянутых болтов на стандартной оснастке.
const DefaultExpectedFixed = 4

// VerdictRule правило: Class должен встретиться ровно Expected раз.
type VerdictRule struct {
	Class    string
	Expected int
}

// DefaultVerdictRule четыре затянутых болта.
func DefaultVerdictRule() VerdictRule {
	return VerdictRule{Class: ClassFixed, Expected: DefaultExpectedFixed}
}

// Evaluate выносит вердикт по подсчёту.
func (r VerdictRule) Evaluate(counts ClassCounts) Verdict {
	if counts.Get(r.Class) == r.Expected {
		return VerdictOK
	}
	return VerdictNotOK
}

// VerdictTable правила по моделям автомобиля, Default для остальных.
type VerdictTable struct {
	Default VerdictRule
	ByModel map[string]VerdictRule
}

// For возвращает правило для модели.
func (t VerdictTable) For(model string) VerdictRule {
	if rule, ok := t.ByModel[model]; ok {
		return rule
	}
	if t.Default.Class == "" {
		return DefaultVerdictRule()
	}
	return t.Default
}
