package accounts

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// DefaultTrialLength is the trial window given to a freshly provisioned account
const DefaultTrialLength = 14 * 24 * time.Hour

// Provisioner creates the owned account of a newly registered user. It runs
// asynchronously after sign-up, which is why the resolver retries an empty
// membership lookup once.
type Provisioner struct {
	db          *sql.DB
	clock       clockwork.Clock
	trialLength time.Duration
	log         *logrus.Entry
}

// NewProvisioner creates a provisioner writing through db
func NewProvisioner(db *sql.DB, clock clockwork.Clock, trialLength time.Duration, log *logrus.Entry) *Provisioner {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if trialLength <= 0 {
		trialLength = DefaultTrialLength
	}
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Provisioner{db: db, clock: clock, trialLength: trialLength, log: log}
}

// ProvisionAccount creates an account owned by userID with a fresh trial and
// no plan. It is idempotent: a user who already owns an account gets that
// account back.
func (p *Provisioner) ProvisionAccount(ctx context.Context, userID string) (*Account, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT account_id FROM account_users WHERE user_id = $1 AND role = $2 ORDER BY created_at ASC LIMIT 1`,
		userID, string(RoleOwner),
	).Scan(&existing)
	if err == nil {
		p.log.WithFields(logrus.Fields{
			"user_id":    userID,
			"account_id": existing,
		}).Debug("User already owns an account")
		return &Account{ID: existing}, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}

	now := p.clock.Now().UTC()
	trialEnd := now.Add(p.trialLength)
	account := &Account{
		ID:         uuid.NewString(),
		TrialStart: &now,
		TrialEnd:   &trialEnd,
		CreatedAt:  now,
	}

	if err := insertAccount(ctx, tx, account); err != nil {
		return nil, err
	}
	if err := insertMembership(ctx, tx, userID, account.ID, RoleOwner, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit account: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"account_id": account.ID,
		"trial_end":  trialEnd,
	}).Info("Provisioned account")

	return account, nil
}
