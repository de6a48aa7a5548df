package trek

import "context"

// Storage records which migration names have been applied. The engine
// depends on this interface only; concrete backends live under storage/.
//
// Each call must be atomic from the engine's perspective. A name is
// logged if and only if its up action completed without error, and
// unlogged if and only if its down action completed without error.
//
// The engine assumes single-writer access. Concurrent engine instances
// sharing one backend can race; guarding against that is a backend-level
// concern (see storage/sqltable.Lock).
type Storage interface {
	// Log records name as executed.
	Log(ctx context.Context, name string) error
	// Unlog removes name from the record.
	Unlog(ctx context.Context, name string) error
	// Executed returns the recorded names. The engine treats the result
	// as a set; backends should preserve insertion order where they can.
	Executed(ctx context.Context) ([]string, error)
}
