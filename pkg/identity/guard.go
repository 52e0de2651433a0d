package identity

import (
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Guard is the only writer of a session's active account id. It refuses to
// replace a set id with "" unless forced, so a slow resolution that found
// nothing cannot wipe out an id a faster one already published. Only sign-out
// forces.
type Guard struct {
	accountID *Observable[string]
	log       *logrus.Entry
	metrics   *observability.Metrics
}

// NewGuard creates a guard with no active account
func NewGuard(log *logrus.Entry, metrics *observability.Metrics) *Guard {
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Guard{
		accountID: NewObservable(""),
		log:       log,
		metrics:   metrics,
	}
}

// AccountID returns the active account id, or ""
func (g *Guard) AccountID() string {
	return g.accountID.Get()
}

// SetAccountID publishes id. Clearing a set id without force is ignored.
// Reports whether the write was applied.
func (g *Guard) SetAccountID(id string, force bool) bool {
	return g.publish(id, force, nil)
}

// SetAccountIDIf is SetAccountID for writers that can be superseded. current
// is checked under the same lock as the write; when it reports false the
// write is dropped. current must not call back into the guard.
func (g *Guard) SetAccountIDIf(id string, force bool, current func() bool) bool {
	return g.publish(id, force, current)
}

func (g *Guard) publish(id string, force bool, current func() bool) bool {
	var superseded, refused bool
	previous, changed := g.accountID.Update(func(active string) (string, bool) {
		if current != nil && !current() {
			superseded = true
			return active, false
		}
		if active != "" && id == "" && !force {
			refused = true
			return active, false
		}
		return id, true
	})

	switch {
	case superseded:
		g.log.WithField("account_id", id).Debug("Dropping superseded account write")
		return false
	case refused:
		g.metrics.RecordGuardIgnoredWrite()
		g.log.WithField("account_id", previous).Warn("Ignoring unforced clear of active account")
		return false
	}

	if changed {
		g.log.WithFields(logrus.Fields{
			"previous_account_id": previous,
			"account_id":          id,
			"forced":              force,
		}).Debug("Active account changed")
	}
	return true
}

// Subscribe registers fn for account id changes
func (g *Guard) Subscribe(fn func(accountID string)) func() {
	return g.accountID.Subscribe(fn)
}
