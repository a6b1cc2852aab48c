// Package provisioning reconciles the membership graph against group and
// role mapping rules evaluated on an external identity provider's login
// profile.
//
// Each rule pairs a condition (an opaque expression handed to an injected
// PredicateEvaluator) with scope-qualified targets. The union of targets
// across true rules forms the desired state; the reconciler diffs it against
// the principal's edges tagged with the provider's id and applies only the
// difference, so reconciliation is idempotent and safe to retry. Edges the
// provider did not create (manual edges, other providers' edges) are never
// touched. A rule whose condition fails to evaluate is a configuration bug
// and surfaces as *MappingError; it is never swallowed or retried.
//
// When no rule of either kind matches, the principal falls back to the
// catalog's default ORGANIZATION and ENVIRONMENT roles, so a first login
// always ends with at least the baseline grant.
package provisioning
