// Package executor выполняет зарегистрированные actions.
//
// Один вызов проходит этапы:
//
//	путь вызовов (циклы, глубина) → Context → валидация → guards →
//	цикл попыток handler'а → RunEntry → Result
//
// Executor никогда не паникует наружу: любой исход возвращается как Result.
// На каждую попытку пишется ровно одна RunEntry, последняя помечена Final.
package executor
