// Package scanning runs port-scan sessions against a single host.
//
// A session expands a port specification, resolves the target, opens the
// transport for the chosen technique and fans probes out under a
// concurrency ceiling. Every probe result flows through one aggregator,
// which is the only writer of the session while it runs, so a finished
// ScanSession holds at most one result per port in ascending order.
//
// # Running a scan
//
//	session, err := scanning.RunScan(ctx, "scanme.example", "22,80,443",
//		probe.Syn, 200, 500*time.Millisecond, "")
//	if err != nil {
//		// InvalidPortSpec, PermissionDenied, TargetUnresolvable or SocketError
//		log.Fatal(err)
//	}
//	for _, r := range session.Results {
//		fmt.Printf("%d/%s %s\n", r.Port, r.Protocol, r.State)
//	}
//
// Engine exposes the same flow with injectable transports, resolver,
// privilege check, logger and metrics.
//
// # Cancellation
//
// Cancelling the context stops admission of new probes immediately.
// Probes already in flight get a grace period (the probe timeout by
// default) to finish, after which they are abandoned. The session is still
// returned with status cancelled; ports that were never classified are
// listed in Cancelled, so PortsCompleted plus len(Cancelled) equals
// PortsRequested.
//
// # Persistence
//
// Sessions serialize to JSON or YAML with a schema_version field. Diff
// compares two sessions of the same target port by port.
package scanning
