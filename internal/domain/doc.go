// Package domain models civic issue reports: what a citizen submits, what is
// persisted, and how a report moves through triage.
//
// # Report lifecycle
//
// A report is created with status Submitted and a single history entry for
// the Submitted stage. Staff move it to In Progress and then Resolved. Each
// status change appends history entries for the stages it implies
// (Assigned, In Progress, Resolved), skipping stages already present, so the
// history reads as an ordered timeline even when staff jump straight to
// Resolved.
//
// # Addresses
//
// FullAddress is the canonical human-readable address. Older clients only
// send LocationText; when FullAddress is empty LocationText takes its place
// (see [IssuePayload.ResolvedAddress]). The structured parts (street,
// locality, city, state, pincode, country, landmark) are stored alongside.
//
// # Coordinates
//
// Lat and Lng are optional on stored records. Records without both are
// ignored by proximity searches rather than treated as errors.
//
// # Departments
//
// Each report is routed to a department derived from its category unless
// the submitter names one explicitly. See [ResolveDepartment].
//
// # Identity
//
// Reports may carry a 12-digit Aadhaar number and a photo of the card. The
// wire names keep the "aadhar" spelling used by existing clients.
package domain
