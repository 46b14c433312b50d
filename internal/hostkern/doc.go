// Package hostkern emulates the kern contract on the host kernel.
//
// On Linux, paged objects are anonymous memory files (memfd), regions
// are PROT_NONE reservations carved with fixed mappings, discarding
// punches holes in the backing file so decommitted pages re-read as
// zeros, and placement collisions surface through
// MAP_FIXED_NOREPLACE. Other platforms report kern.ErrUnavailable;
// callers fall back to simkern.
package hostkern
