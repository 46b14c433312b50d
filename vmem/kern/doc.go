// Package kern defines the contract between the vmem provider and the
// underlying capability-based kernel.
//
// The kernel's native primitives are nested address-space regions and
// page-backed memory objects. A Region can hold mappings of paged objects
// and further child regions; a PagedObject represents physical pages that
// can be mapped into one or more regions. Every operation is a synchronous
// kernel call that either succeeds or returns one of the sentinel errors
// in this package.
//
// Two implementations ship with this module:
//
//   - internal/hostkern emulates the contract on Linux with anonymous
//     memory-file objects and PROT_NONE reservations.
//   - internal/simkern is a fully in-memory kernel used by the test
//     suites and on platforms without a host backend.
package kern
