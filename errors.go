package caravel

// ErrKind is the error-kind code carried by an error sentinel column.
// Errors propagate through the executor as sentinel values: every operator
// tests its inputs with isErr and returns the first sentinel it sees,
// releasing any sibling inputs. No diagnostic text travels with the value;
// the kind code is the contract.
type ErrKind uint8

const (
	ErrNone   ErrKind = iota
	ErrNYI            // unsupported combination for the chosen path
	ErrOOM            // arena or column allocation failed
	ErrSchema         // missing column, or no table bound
	ErrLength         // non-scalar vector operands of differing lengths
	ErrDomain         // invalid parameter
	ErrCancel         // pool cancellation flag observed
)

func (e ErrKind) String() string {
	switch e {
	case ErrNone:
		return "none"
	case ErrNYI:
		return "nyi"
	case ErrOOM:
		return "oom"
	case ErrSchema:
		return "schema"
	case ErrLength:
		return "length"
	case ErrDomain:
		return "domain"
	case ErrCancel:
		return "cancel"
	default:
		return "unknown"
	}
}

// Error makes ErrKind usable as a Go error at the public boundary.
func (e ErrKind) Error() string { return "caravel: " + e.String() }

// errSentinels holds one shared immutable column per kind. Sentinels are
// never retained or released.
var errSentinels = [...]*Column{
	ErrNone:   {typ: int8(KindErr), errKind: ErrNone},
	ErrNYI:    {typ: int8(KindErr), errKind: ErrNYI},
	ErrOOM:    {typ: int8(KindErr), errKind: ErrOOM},
	ErrSchema: {typ: int8(KindErr), errKind: ErrSchema},
	ErrLength: {typ: int8(KindErr), errKind: ErrLength},
	ErrDomain: {typ: int8(KindErr), errKind: ErrDomain},
	ErrCancel: {typ: int8(KindErr), errKind: ErrCancel},
}

// errVal returns the sentinel column for an error kind.
func errVal(kind ErrKind) *Column { return errSentinels[kind] }

// isErr reports whether a result slot holds an error sentinel.
func isErr(c *Column) bool { return c != nil && c.Kind() == KindErr }

// ErrOf extracts the error kind from a result, ErrNone if it is not an
// error sentinel.
func ErrOf(c *Column) ErrKind {
	if isErr(c) {
		return c.errKind
	}
	return ErrNone
}
