// Package component defines the lifecycle contract shared by the inbound mappers
// and outbound concentrators, and a Manager that starts and stops them in order.
//
// Every adapter follows the same pattern:
//
//	Initialize() error                   // validate and build, no I/O
//	Start(ctx context.Context) error    // open channels, start loops
//	Stop(timeout time.Duration) error   // release channels, wait for loops
//
// Components never store the context passed to Start; the Manager owns one
// child context per component and cancels it on shutdown. Stop runs in the
// reverse of start order so outbound streams stop before the inputs feeding them.
//
// Health and DataFlow are polled by the admin service and the health monitor.
package component
