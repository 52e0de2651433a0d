package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MembershipSource lists and checks a user's account memberships
type MembershipSource interface {
	// ListMemberships returns all memberships of a user, oldest first
	ListMemberships(ctx context.Context, userID string) ([]Membership, error)
	// GetMembership returns ErrNotFound when the user is not a member
	GetMembership(ctx context.Context, userID, accountID string) (*Membership, error)
}

// Store is the read side used to assemble a user's identity
type Store interface {
	MembershipSource
	GetAccount(ctx context.Context, accountID string) (*Account, error)
	ListBusinesses(ctx context.Context, accountID string) ([]*Business, error)
	IsAdmin(ctx context.Context, userID string) (bool, error)
}

// SQLStore implements Store over database/sql. Queries use $n placeholders,
// which both lib/pq and go-sqlite3 accept.
type SQLStore struct {
	primary *sql.DB
	reads   func() *sql.DB
}

// NewSQLStore creates a store that reads and writes through db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{
		primary: db,
		reads:   func() *sql.DB { return db },
	}
}

// NewSQLStoreWithReplicas creates a store that sends list reads to the
// manager's replicas. Membership checks always hit the primary so a fresh
// invitation is visible immediately.
func NewSQLStoreWithReplicas(cm *ConnectionManager) *SQLStore {
	return &SQLStore{
		primary: cm.Primary(),
		reads:   cm.Replica,
	}
}

// DB returns the primary handle
func (s *SQLStore) DB() *sql.DB {
	return s.primary
}

const membershipColumns = `au.user_id, au.account_id, au.role, a.plan, au.created_at`

// ListMemberships returns all memberships of a user, oldest first
func (s *SQLStore) ListMemberships(ctx context.Context, userID string) ([]Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM account_users au
		JOIN accounts a ON a.id = au.account_id
		WHERE au.user_id = $1
		ORDER BY au.created_at ASC, au.account_id ASC
	`

	rows, err := s.reads().QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	defer rows.Close()

	memberships := []Membership{}
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	return memberships, nil
}

// GetMembership returns the membership of userID in accountID
func (s *SQLStore) GetMembership(ctx context.Context, userID, accountID string) (*Membership, error) {
	query := `
		SELECT ` + membershipColumns + `
		FROM account_users au
		JOIN accounts a ON a.id = au.account_id
		WHERE au.user_id = $1 AND au.account_id = $2
	`

	m, err := scanMembership(s.primary.QueryRowContext(ctx, query, userID, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// GetAccount returns an account by id
func (s *SQLStore) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	query := `
		SELECT id, plan, trial_start, trial_end, has_had_paid_plan, is_free_account,
		       stripe_customer_id, stripe_subscription_id,
		       max_contacts, max_locations, max_users, max_prompt_pages, created_at
		FROM accounts
		WHERE id = $1
	`

	var (
		a                      Account
		plan                   sql.NullString
		trialStart, trialEnd   sql.NullTime
		customerID, subscripID sql.NullString
	)
	err := s.reads().QueryRowContext(ctx, query, accountID).Scan(
		&a.ID, &plan, &trialStart, &trialEnd, &a.HasHadPaidPlan, &a.IsFreeAccount,
		&customerID, &subscripID,
		&a.MaxContacts, &a.MaxLocations, &a.MaxUsers, &a.MaxPromptPages, &a.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if plan.Valid {
		a.Plan = &plan.String
	}
	if trialStart.Valid {
		a.TrialStart = &trialStart.Time
	}
	if trialEnd.Valid {
		a.TrialEnd = &trialEnd.Time
	}
	a.StripeCustomerID = customerID.String
	a.StripeSubscriptionID = subscripID.String

	return &a, nil
}

// ListBusinesses returns the businesses of an account, oldest first
func (s *SQLStore) ListBusinesses(ctx context.Context, accountID string) ([]*Business, error) {
	query := `
		SELECT id, account_id, name, address_street, address_city, address_state,
		       address_zip, address_country, created_at
		FROM businesses
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`

	rows, err := s.reads().QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	businesses := []*Business{}
	for rows.Next() {
		var (
			b                               Business
			street, city, state, zip, cntry sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Name, &street, &city, &state, &zip, &cntry, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan business: %w", err)
		}
		b.AddressStreet = street.String
		b.AddressCity = city.String
		b.AddressState = state.String
		b.AddressZip = zip.String
		b.AddressCountry = cntry.String
		businesses = append(businesses, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}

	return businesses, nil
}

// IsAdmin reports whether the user is a platform administrator
func (s *SQLStore) IsAdmin(ctx context.Context, userID string) (bool, error) {
	var count int
	err := s.reads().QueryRowContext(ctx, `SELECT COUNT(1) FROM admins WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check admin status: %w", err)
	}
	return count > 0, nil
}

// CreateAccount inserts an account. A blank ID or CreatedAt is an error.
func (s *SQLStore) CreateAccount(ctx context.Context, a *Account) error {
	return insertAccount(ctx, s.primary, a)
}

// AddMembership adds userID to accountID with role
func (s *SQLStore) AddMembership(ctx context.Context, userID, accountID string, role Role, at time.Time) error {
	return insertMembership(ctx, s.primary, userID, accountID, role, at)
}

// RemoveMembership removes userID from accountID
func (s *SQLStore) RemoveMembership(ctx context.Context, userID, accountID string) error {
	result, err := s.primary.ExecContext(ctx,
		`DELETE FROM account_users WHERE user_id = $1 AND account_id = $2`,
		userID, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateBusiness inserts a business profile
func (s *SQLStore) CreateBusiness(ctx context.Context, b *Business) error {
	if b.ID == "" || b.AccountID == "" {
		return fmt.Errorf("business id and account id are required")
	}
	if strings.TrimSpace(b.Name) == "" {
		return fmt.Errorf("business name is required")
	}

	query := `
		INSERT INTO businesses (id, account_id, name, address_street, address_city,
		                        address_state, address_zip, address_country, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.primary.ExecContext(ctx, query,
		b.ID, b.AccountID, b.Name,
		nullString(b.AddressStreet), nullString(b.AddressCity), nullString(b.AddressState),
		nullString(b.AddressZip), nullString(b.AddressCountry), b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create business: %w", err)
	}
	return nil
}

// GrantAdmin marks userID as a platform administrator
func (s *SQLStore) GrantAdmin(ctx context.Context, userID string, at time.Time) error {
	_, err := s.primary.ExecContext(ctx,
		`INSERT INTO admins (user_id, created_at) VALUES ($1, $2)`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to grant admin: %w", err)
	}
	return nil
}

// execer is satisfied by *sql.DB and *sql.Tx
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertAccount(ctx context.Context, db execer, a *Account) error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.CreatedAt.IsZero() {
		return fmt.Errorf("account created_at is required")
	}

	query := `
		INSERT INTO accounts (id, plan, trial_start, trial_end, has_had_paid_plan, is_free_account,
		                      stripe_customer_id, stripe_subscription_id,
		                      max_contacts, max_locations, max_users, max_prompt_pages, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := db.ExecContext(ctx, query,
		a.ID, nullStringPtr(a.Plan), nullTime(a.TrialStart), nullTime(a.TrialEnd),
		a.HasHadPaidPlan, a.IsFreeAccount,
		nullString(a.StripeCustomerID), nullString(a.StripeSubscriptionID),
		a.MaxContacts, a.MaxLocations, a.MaxUsers, a.MaxPromptPages, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func insertMembership(ctx context.Context, db execer, userID, accountID string, role Role, at time.Time) error {
	if !role.Valid() {
		return fmt.Errorf("invalid role: %q", role)
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO account_users (account_id, user_id, role, created_at) VALUES ($1, $2, $3, $4)`,
		accountID, userID, string(role), at,
	)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMembership(row rowScanner) (*Membership, error) {
	var (
		m    Membership
		role string
		plan sql.NullString
	)
	if err := row.Scan(&m.UserID, &m.AccountID, &role, &plan, &m.CreatedAt); err != nil {
		return nil, err
	}
	m.Role = Role(role)
	if plan.Valid {
		m.AccountPlan = &plan.String
	}
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
