package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/tenancy/pkg/observability"
)

// Rule names the resolution rule that picked an account
type Rule string

const (
	RuleManualSelection Rule = "manual_selection"
	RuleMemberPaid      Rule = "member_paid"
	RuleOwnerPaid       Rule = "owner_paid"
	RuleMember          Rule = "member"
	RuleFirst           Rule = "first"
	RuleNone            Rule = "none"
)

// SelectAccount applies the resolution rules to a user's memberships and
// returns the chosen account id with the rule that matched. selected is the
// user's manual selection, or "". It returns "" and RuleNone for no
// memberships. Memberships are expected oldest first.
func SelectAccount(memberships []Membership, selected string) (string, Rule) {
	if len(memberships) == 0 {
		return "", RuleNone
	}

	if selected != "" {
		for _, m := range memberships {
			if m.AccountID == selected {
				return selected, RuleManualSelection
			}
		}
	}

	// members of a paid team account go there before their own unpaid one
	if m, ok := firstMembership(memberships, func(m Membership) bool {
		return m.Role == RoleMember && IsPaidPlan(m.AccountPlan)
	}); ok {
		return m.AccountID, RuleMemberPaid
	}

	if m, ok := firstMembership(memberships, func(m Membership) bool {
		return m.Role == RoleOwner && IsPaidPlan(m.AccountPlan)
	}); ok {
		return m.AccountID, RuleOwnerPaid
	}

	if m, ok := firstMembership(memberships, func(m Membership) bool {
		return m.Role == RoleMember
	}); ok {
		return m.AccountID, RuleMember
	}

	return memberships[0].AccountID, RuleFirst
}

func firstMembership(memberships []Membership, match func(Membership) bool) (Membership, bool) {
	for _, m := range memberships {
		if match(m) {
			return m, true
		}
	}
	return Membership{}, false
}

// DefaultResolveTimeout bounds one shared resolution, including its retry wait
const DefaultResolveTimeout = 30 * time.Second

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithRetryPolicy sets the policy for re-querying empty memberships
func WithRetryPolicy(p RetryPolicy) ResolverOption {
	return func(r *Resolver) { r.retry = p }
}

// WithResolveTimeout bounds a shared resolution independently of the
// callers waiting on it
func WithResolveTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.timeout = d }
}

// WithResolverLogger sets the logger
func WithResolverLogger(log *logrus.Entry) ResolverOption {
	return func(r *Resolver) { r.log = log }
}

// WithResolverMetrics records which rule resolved each call
func WithResolverMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// Resolver picks the active account for a user. Memberships are read from
// the source on every call; the manual selection is only a hint and is
// checked against them each time.
type Resolver struct {
	source     MembershipSource
	selections SelectionStore
	retry      RetryPolicy
	timeout    time.Duration
	log        *logrus.Entry
	metrics    *observability.Metrics

	inflight singleflight.Group
}

// NewResolver creates a resolver. A nil selections store keeps selections in memory.
func NewResolver(source MembershipSource, selections SelectionStore, opts ...ResolverOption) *Resolver {
	if selections == nil {
		selections = NewMemorySelectionStore()
	}
	r := &Resolver{
		source:     source,
		selections: selections,
		retry:      DefaultRetryPolicy(),
		timeout:    DefaultResolveTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = observability.NewNopLogger()
	}
	if r.timeout <= 0 {
		r.timeout = DefaultResolveTimeout
	}
	return r
}

// Resolve returns the account id the user should work in, or "" when the
// user has no memberships and needs onboarding. Errors only come from the
// stores, or from ctx when the caller gives up waiting. Concurrent calls
// for one user share a single lookup, including its retry wait. The shared
// lookup is detached from any one caller's cancellation and bounded by the
// resolve timeout instead.
func (r *Resolver) Resolve(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", nil
	}

	ch := r.inflight.DoChan(userID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(shared, userID)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		if res.Shared {
			r.log.WithField("user_id", userID).Debug("joined in-flight account resolution")
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (r *Resolver) resolve(ctx context.Context, userID string) (string, error) {
	ctx, span := observability.StartSpan(ctx, "accounts.Resolve",
		attribute.String("user.id", userID))
	defer span.End()

	log := observability.WithTraceContext(ctx, r.log.WithField("user_id", userID))

	memberships, err := Retry(ctx, r.retry, func(ctx context.Context) ([]Membership, error) {
		ms, err := r.source.ListMemberships(ctx, userID)
		if err != nil {
			return nil, err
		}
		if len(ms) == 0 {
			return nil, ErrNotReady
		}
		return ms, nil
	}, func(attempt int, wait time.Duration) {
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"wait":    wait.String(),
		}).Info("No memberships yet, retrying")
	})
	if errors.Is(err, ErrNotReady) {
		r.metrics.RecordResolution(string(RuleNone))
		span.SetAttributes(attribute.String("resolution.rule", string(RuleNone)))
		log.Info("User has no account memberships; onboarding required")
		return "", nil
	}
	if err != nil {
		observability.SpanError(span, err)
		return "", fmt.Errorf("failed to resolve account: %w", err)
	}

	selected := r.selection(ctx, log, userID)
	accountID, rule := SelectAccount(memberships, selected)

	if selected != "" && rule != RuleManualSelection {
		log.WithField("account_id", selected).Info("Discarding stale account selection")
		if err := r.selections.ClearSelection(ctx, userID); err != nil {
			log.WithError(err).Warn("Failed to clear stale account selection")
		}
	}

	r.metrics.RecordResolution(string(rule))
	span.SetAttributes(
		attribute.String("resolution.rule", string(rule)),
		attribute.String("account.id", accountID),
	)
	log.WithFields(logrus.Fields{
		"account_id": accountID,
		"rule":       string(rule),
	}).Debug("Account resolved")

	return accountID, nil
}

// selection reads the manual selection; a failing store is treated as no selection
func (r *Resolver) selection(ctx context.Context, log *logrus.Entry, userID string) string {
	selected, err := r.selections.GetSelection(ctx, userID)
	if err != nil {
		log.WithError(err).Warn("Failed to read account selection")
		return ""
	}
	return selected
}

// Memberships returns the user's memberships, oldest first
func (r *Resolver) Memberships(ctx context.Context, userID string) ([]Membership, error) {
	return r.source.ListMemberships(ctx, userID)
}

// Validate reports whether userID is currently a member of accountID
func (r *Resolver) Validate(ctx context.Context, userID, accountID string) (bool, error) {
	if userID == "" || accountID == "" {
		return false, nil
	}
	_, err := r.source.GetMembership(ctx, userID, accountID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to validate membership: %w", err)
	}
	return true, nil
}

// Select validates and persists a manual account selection. Returns
// ErrAccessDenied when the user is not a member of accountID.
func (r *Resolver) Select(ctx context.Context, userID, accountID string) error {
	ok, err := r.Validate(ctx, userID, accountID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAccessDenied
	}
	if err := r.selections.SetSelection(ctx, userID, accountID); err != nil {
		return fmt.Errorf("failed to save account selection: %w", err)
	}
	r.log.WithFields(logrus.Fields{
		"user_id":    userID,
		"account_id": accountID,
	}).Info("Account selected")
	return nil
}

// ClearSelection forgets the user's manual selection
func (r *Resolver) ClearSelection(ctx context.Context, userID string) error {
	if err := r.selections.ClearSelection(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear account selection: %w", err)
	}
	return nil
}
