//go:build !unix

package provision

// acquireLock is a no-op where flock is unavailable; single-run discipline
// is on the caller there.
func acquireLock(string) (func(), error) {
	return func() {}, nil
}
