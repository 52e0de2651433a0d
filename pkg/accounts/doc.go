// Package accounts holds the account model and decides which account a
// signed-in user is working in.
//
// # Overview
//
// A user can belong to several accounts through memberships. Each membership
// carries a role (owner, admin or member). Each account has a subscription
// plan, a trial window and usage limits. The accounts package provides:
//
//   - SQLStore: read access to accounts, memberships, businesses and admins
//   - Migrate: the portable schema shared by PostgreSQL and SQLite
//   - SelectionStore: the per-user manual account selection (memory, file, Redis)
//   - Resolver: picks the effective account for a user
//   - Provisioner: creates the owned account for a new user
//   - PlanCatalog: default limits per plan tier
//
// # Resolution
//
// Resolver.Resolve applies these rules in order and returns the first match:
//
//  1. The user's manual selection, if they are still a member of it. A stale
//     selection is cleared.
//  2. A membership with role member whose account has a paid plan.
//  3. A membership with role owner whose account has a paid plan.
//  4. Any membership with role member.
//  5. The first membership (oldest first).
//
// When the user has no memberships at all, the lookup is retried once after
// a short delay to cover account provisioning that is still in flight. If
// there is still nothing, Resolve returns "" with no error: the user needs
// onboarding. Errors are only returned for store failures.
//
// Concurrent calls for the same user share one lookup.
//
// # Usage
//
//	store := accounts.NewSQLStore(db)
//	resolver := accounts.NewResolver(store, accounts.NewMemorySelectionStore())
//	accountID, err := resolver.Resolve(ctx, userID)
package accounts
