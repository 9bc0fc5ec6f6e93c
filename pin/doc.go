// Package pin provides the runtime pin counter.
//
// The scheduler pins the owning runtime once per live operation, including
// the synthetic wait-until-idle sub-operations it creates internally, and
// unpins as each one completes. A host tears down by waiting on the counter:
//
//	pins := pin.NewCounter()
//	// ... operations pin/unpin as they come and go ...
//	if err := pins.Wait(ctx); err != nil {
//		// outstanding work did not drain in time
//	}
//
// After any balanced workload the count returns exactly to its prior value;
// an unpin below zero panics because it always indicates a double completion.
package pin
