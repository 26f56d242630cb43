package clock

import "time"

// Func — источник текущего времени; подменяется в тестах.
type Func func() time.Time

// Now возвращает текущее время в UTC: все отметки в хранилище и реестре логинов — в UTC.
func Now() time.Time {
	return time.Now().UTC()
}
