// Package identity composes authentication, account resolution and cached
// tenant data into one per-session read surface.
//
// A Facade owns a TokenScheduler, a Guard and four TTL caches. The Guard is
// the only writer of the active account id: it refuses to replace a set id
// with an empty one unless the write is forced, and only sign-out forces.
//
//	f, err := identity.NewFacade(identity.FacadeDeps{
//		Authenticator: authn,
//		Resolver:      resolver,
//		Store:         store,
//		Catalog:       catalog,
//	})
//	if err != nil {
//		return err
//	}
//	defer f.Close()
//
//	if err := f.SignIn(ctx, email, password); err != nil {
//		return err
//	}
//	snap := f.Snapshot()
package identity
