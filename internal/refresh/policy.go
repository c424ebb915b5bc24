package refresh

import "time"

// Состояние кеша относительно интервала обновления
type State int

const (
	Fresh State = iota
	Stale
)

func (s State) String() string {
	if s == Stale {
		return "stale"
	}

	return "fresh"
}

// Decide решает, нужно ли идти в источники перед ответом.
// lastRefresh == nil значит, что обновлений не было или время в хранилище битое.
func Decide(lastRefresh *time.Time, interval time.Duration, force bool, now time.Time) State {
	switch {
	case force:
		return Stale
	case lastRefresh == nil:
		return Stale
	case now.Sub(*lastRefresh) > interval:
		return Stale
	default:
		return Fresh
	}
}
