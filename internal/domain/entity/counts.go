package entity

import "sort"

// Семантические классы болтов.
const (
	ClassLoose  = "loose"
	ClassFixed  = "fixed"
	ClassNoBolt = "no_bolt"
)

// KnownClasses классы, которые всегда присутствуют в подсчёте.
var KnownClasses = []string{ClassLoose, ClassFixed, ClassNoBolt}

// ClassCounts количество объектов по семантическому классу.
type ClassCounts map[string]int

// NewClassCounts создаёт подсчёт с нулями для известных классов.
func NewClassCounts(seed ...string) ClassCounts {
	c := make(ClassCounts, len(seed))
	for _, name := range seed {
		c[name] = 0
	}
	return c
}

// Get возвращает количество, 0 если класса нет.
func (c ClassCounts) Get(class string) int {
	return c[class]
}

// Inc увеличивает счётчик класса.
func (c ClassCounts) Inc(class string) {
	c[class]++
}

// Total возвращает сумму по всем классам.
func (c ClassCounts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// Classes возвращает имена классов в алфавитном порядке.
func (c ClassCounts) Classes() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
