// Package storage provides a minimal persistence layer for firing history.
//
// It records which schedule tokens fired and whether they were on time or
// missed. It deliberately does not persist pending scheduler state; a
// restart starts from a clean schedule.
package storage
