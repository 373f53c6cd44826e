// Package integrations holds the clients for the external systems agents are
// synchronized with.
//
// Subpackages:
//   - platform:      Mirrors agents and knowledge to the execution platform and invokes them
//   - observability: Records conversation threads and steps on the tracing platform
package integrations
