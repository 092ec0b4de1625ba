package action

import "strings"

// Path — неизменяемый путь вложенных вызовов actions (ключи от корня).
//
// Append всегда возвращает новый Path, поэтому параллельные вложенные
// вызовы не видят изменений друг друга.
type Path struct {
	keys []string
}

// NewPath создаёт путь из ключей.
func NewPath(keys ...string) Path {
	return Path{keys: append([]string(nil), keys...)}
}

// Len возвращает глубину пути.
func (p Path) Len() int {
	return len(p.keys)
}

// Contains возвращает true, если key уже есть в пути.
func (p Path) Contains(key string) bool {
	for _, k := range p.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Append возвращает новый путь с key в конце.
func (p Path) Append(key string) Path {
	keys := make([]string, len(p.keys), len(p.keys)+1)
	copy(keys, p.keys)
	return Path{keys: append(keys, key)}
}

// Keys возвращает копию ключей пути.
func (p Path) Keys() []string {
	return append([]string(nil), p.keys...)
}

// String возвращает путь в виде "a -> b -> c".
func (p Path) String() string {
	return strings.Join(p.keys, " -> ")
}
