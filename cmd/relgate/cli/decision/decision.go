// Package decision defines the internal allow/block result threaded
// through the policy and stop engines. Conversion to exit codes and hook
// JSON happens exactly once, at the command layer.
package decision

// Decision is the outcome of one policy or stop evaluation.
type Decision struct {
	allowed bool
	reason  string
}

// Allow permits the action.
func Allow() Decision {
	return Decision{allowed: true}
}

// Block refuses the action with remediation text shown to the agent.
func Block(reason string) Decision {
	return Decision{allowed: false, reason: reason}
}

// Allowed reports whether the action may proceed.
func (d Decision) Allowed() bool { return d.allowed }

// Reason returns the remediation text for a blocked decision, "" when allowed.
func (d Decision) Reason() string { return d.reason }
