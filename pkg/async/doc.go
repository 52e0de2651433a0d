// Package async provides panic-safe background execution for work that must
// outlive the call that triggered it.
//
// # Key Functions
//
// SafeGo runs a function in a goroutine with a timeout, panic recovery and
// error logging, and returns a channel closed when the task finishes:
//
//	done := async.SafeGo(ctx, 10*time.Second, "account provisioning", log, func(ctx context.Context) error {
//		return provisioner.ProvisionAccount(ctx, user)
//	})
//
// # Use Cases
//
// Post sign-up account provisioning, background re-resolution after the
// token scheduler reports a user change.
package async
