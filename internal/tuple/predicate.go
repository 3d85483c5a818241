package tuple

// Op is a comparison operator usable in an index range scan, matching the
// six operators simpledb.storage.Predicate.Op ships.
type Op byte

const (
	Equals Op = iota
	NotEquals
	LessThan
	LessThanOrEqual
	GreaterThan
	GreaterThanOrEqual
)

func (o Op) String() string {
	switch o {
	case Equals:
		return "="
	case NotEquals:
		return "<>"
	case LessThan:
		return "<"
	case LessThanOrEqual:
		return "<="
	case GreaterThan:
		return ">"
	case GreaterThanOrEqual:
		return ">="
	default:
		return "?"
	}
}

// IndexPredicate pairs an operator with the bound field an index scan
// filters against, mirroring simpledb.index.IndexPredicate. It is the
// first-class form of the predicate spec.md's index_iterator only sketches.
type IndexPredicate struct {
	Op    Op
	Bound Field
}

// ForwardCanStop reports whether the scan can stop advancing once the
// current key fails to satisfy the predicate, assuming keys are visited
// in ascending order (mirrors BTreeSearchIterator's early-termination
// logic for the < / <= / = operators).
func (p IndexPredicate) ForwardCanStop(key Field) bool {
	switch p.Op {
	case LessThan, LessThanOrEqual:
		return !key.Compare(p.Op, p.Bound)
	case Equals:
		return key.Compare(GreaterThan, p.Bound)
	default:
		return false
	}
}
