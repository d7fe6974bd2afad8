// Package parcachetest provides a reusable contract suite for
// parcache.Store implementations.
//
// Store tests run the same backend-agnostic checks and add driver-specific
// assertions on top:
//
//	func TestRedisStoreContract(t *testing.T) {
//		store := parcache.NewRedisStore(context.Background(), newStubClient())
//		parcachetest.RunStoreContract(t, store, parcachetest.Options{
//			CaseName: t.Name(),
//			TTL:      time.Second,
//			TTLWait:  1500 * time.Millisecond,
//		})
//	}
package parcachetest
