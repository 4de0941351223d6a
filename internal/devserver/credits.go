package devserver

import (
	"errors"
	"sync"

	"svgstudio/internal/domain"
)

// DefaultCredits is the balance every new user starts with.
const DefaultCredits = 50

var errOutOfCredits = errors.New("out of credits")

type ledger struct {
	initial int

	mu       sync.Mutex
	balances map[string]*domain.Credits
}

func newLedger(initial int) *ledger {
	return &ledger{initial: initial, balances: make(map[string]*domain.Credits)}
}

func (l *ledger) account(owner string) *domain.Credits {
	c, ok := l.balances[owner]
	if !ok {
		c = &domain.Credits{Remaining: l.initial}
		l.balances[owner] = c
	}
	return c
}

func (l *ledger) spend(owner string) (domain.Credits, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.account(owner)
	if c.Remaining <= 0 {
		return *c, errOutOfCredits
	}
	c.Remaining--
	c.Spent++
	return *c, nil
}

func (l *ledger) refund(owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.account(owner)
	c.Remaining++
	c.Spent--
}

func (l *ledger) balance(owner string) domain.Credits {
	l.mu.Lock()
	defer l.mu.Unlock()
	return *l.account(owner)
}
