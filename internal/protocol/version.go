package protocol

// Version is the wire protocol version string the daemon sends as the
// first frame after a successful handshake (spec.md §4.B step 3). A
// client-observed mismatch is advisory only — spec.md §4.B says the
// client "treats a version mismatch as advisory... but continues".
const Version = "pueued-wire/1"
