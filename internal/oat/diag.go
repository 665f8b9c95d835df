package oat

import "fmt"

// DiagKind classifies a recoverable decoding problem. Only kinds the
// parser actually raises exist: truncated structures, DEX bodies that
// fail to index, and class records of an unsupported type.
type DiagKind string

const (
	DiagTruncated DiagKind = "truncated"
	DiagBadDex    DiagKind = "bad_dex"
	DiagClassType DiagKind = "class_type"
)

// Diag is one recoverable problem, located by OAT-relative offset.
type Diag struct {
	Offset uint64   `json:"offset"`
	Kind   DiagKind `json:"kind"`
	Msg    string   `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("%#x: %s (%s)", d.Offset, d.Msg, d.Kind)
}

// Diags is the append-only list of problems a parse survived. Ordering
// follows decode order, so earlier entries are closer to the root cause.
type Diags []Diag

func (d *Diags) Addf(offset uint64, kind DiagKind, format string, args ...any) {
	*d = append(*d, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}
