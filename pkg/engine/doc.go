// Package engine defines the boundary between tailnode and the overlay
// network engine that actually joins a tailnet.
//
// This package defines the core abstractions for the engine component:
//   - Engine: Allocates new embedded node instances
//   - Instance: One embedded node, configured before bring-up and then
//     used to listen for and dial connections over the overlay
//   - Logf: The printf-style sink an instance writes its logs to
//
// Peer discovery, key exchange, NAT traversal, encrypted transport and
// routing all live behind this boundary. tailnode only ever calls the
// capability set below and translates the returned errors into its own
// error kinds (see internal/node).
//
// Two implementations ship with tailnode:
//   - internal/engine/tsnetengine: the production engine on tailscale.com/tsnet
//   - internal/engine/memengine: an in-memory network used by tests
//
// The interfaces use Go idioms:
//   - context.Context for the unbounded bring-up and dial waits
//   - net.Listener and net.Conn for the accepted byte streams
//   - io.Closer for resource cleanup
//
// Example usage:
//
//	inst, err := eng.Create()
//	if err != nil {
//		return err
//	}
//	defer inst.Close()
//
//	if err := inst.SetAuthKey(os.Getenv("TS_AUTHKEY")); err != nil {
//		return err
//	}
//	if err := inst.Up(ctx); err != nil {
//		return err
//	}
//
//	ln, err := inst.Listen("tcp", ":1999")
//	if err != nil {
//		return err
//	}
//	defer ln.Close()
package engine
