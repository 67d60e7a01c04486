package caravel

import (
	"fmt"
	"strings"
)

// Opcode identifies an operator node. The dispatch switch over opcodes is
// closed; all codes are known at compile time.
type Opcode uint8

const (
	OpScan Opcode = iota
	OpConst

	// Element-wise unary
	OpNeg
	OpAbs
	OpNot
	OpSqrt
	OpLog
	OpExp
	OpCeil
	OpFloor
	OpIsNull
	OpCast

	// Element-wise binary
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAnd
	OpOr
	OpMin2
	OpMax2

	// Reductions
	OpSum
	OpProd
	OpMin
	OpMax
	OpCount
	OpAvg
	OpFirst
	OpLast
	OpStddev
	OpStddevPop
	OpVar
	OpVarPop

	// Relational
	OpFilter
	OpSort
	OpGroup
	OpJoin
	OpHead
	OpTail
	OpIf
	OpSelect
	OpWindow

	// Strings
	OpLike
	OpILike
	OpUpper
	OpLower
	OpTrim
	OpStrLen
	OpSubstr
	OpReplace
	OpConcat

	// Time
	OpExtract
	OpDateTrunc

	// Plumbing
	OpAlias
	OpMaterialize
)

var opcodeNames = map[Opcode]string{
	OpScan: "scan", OpConst: "const",
	OpNeg: "neg", OpAbs: "abs", OpNot: "not", OpSqrt: "sqrt", OpLog: "log",
	OpExp: "exp", OpCeil: "ceil", OpFloor: "floor", OpIsNull: "isnull",
	OpCast: "cast",
	OpAdd:  "add", OpSub: "sub", OpMul: "mul", OpDiv: "div", OpMod: "mod",
	OpEq: "eq", OpNe: "ne", OpLt: "lt", OpLe: "le", OpGt: "gt", OpGe: "ge",
	OpAnd: "and", OpOr: "or", OpMin2: "min2", OpMax2: "max2",
	OpSum: "sum", OpProd: "prod", OpMin: "min", OpMax: "max",
	OpCount: "count", OpAvg: "avg", OpFirst: "first", OpLast: "last",
	OpStddev: "stddev", OpStddevPop: "stddev_pop", OpVar: "var",
	OpVarPop: "var_pop",
	OpFilter: "filter", OpSort: "sort", OpGroup: "group", OpJoin: "join",
	OpHead: "head", OpTail: "tail", OpIf: "if", OpSelect: "select",
	OpWindow: "window",
	OpLike:   "like", OpILike: "ilike", OpUpper: "upper", OpLower: "lower",
	OpTrim: "trim", OpStrLen: "strlen", OpSubstr: "substr",
	OpReplace: "replace", OpConcat: "concat",
	OpExtract: "extract", OpDateTrunc: "date_trunc",
	OpAlias: "alias", OpMaterialize: "materialize",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// isElementwise reports whether the opcode is handled by the expression
// compiler / element-wise kernels.
func (o Opcode) isElementwise() bool {
	return o >= OpNeg && o <= OpMax2
}

// isUnary reports whether the element-wise opcode takes one input.
func (o Opcode) isUnary() bool { return o >= OpNeg && o <= OpCast }

// isReduction reports whether the opcode is a full-column reduction.
func (o Opcode) isReduction() bool { return o >= OpSum && o <= OpVarPop }

// Op is one node of the operator graph. The executor never mutates nodes;
// it only reads them and writes intermediate vectors.
type Op struct {
	Code Opcode
	ID   uint32
	In   [2]*Op
	Out  Kind // output type hint; the executor validates and may promote
}

// AggSpec pairs an aggregate opcode with its input node.
type AggSpec struct {
	Op    Opcode
	Input *Op
	Name  string // output column name
}

// WinFunc is one window function slot.
type WinFunc struct {
	Op    WinOp
	Input string // input column name, "" for ranking functions
	Param int64  // NTILE(n), LAG/LEAD offset, NTH_VALUE(n)
	Name  string // output column name
}

// JoinKind selects the join semantics.
type JoinKind uint8

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinFull
)

// OpExt is the auxiliary per-op record looked up by op ID. It carries the
// op-specific parameters the fixed node layout has no room for.
type OpExt struct {
	Name string  // SCAN column / ALIAS name
	Lit  *Column // CONST literal

	// GROUP
	Keys     []*Op
	KeyNames []string
	Aggs     []AggSpec

	// SORT / WINDOW ordering
	SortCols   []string
	Desc       []bool
	NullsFirst []bool
	Limit      int

	// JOIN
	JoinType  JoinKind
	LeftKeys  []string
	RightKeys []string

	// WINDOW
	PartKeys  []string
	OrderKeys []string
	Funcs     []WinFunc
	// Frame: true = whole partition, false = running prefix
	// (UNBOUNDED PRECEDING to CURRENT ROW).
	WholeFrame bool

	// HEAD / TAIL count, SUBSTR start
	N int64
	// SUBSTR length
	M int64

	// EXTRACT / DATE_TRUNC field
	Field TimeField

	// IF arms
	Then *Op
	Else *Op

	// SELECT column list, CONCAT extra args beyond In[0], In[1]
	Cols []string
	Args []*Op

	// CAST target
	Target Kind
}

// Graph owns the operator nodes of one query: the extension records, the
// bound base table, and the lazy selection slot threaded through the tree.
type Graph struct {
	table     *Table
	exts      map[uint32]*OpExt
	selection *Sel
	nextID    uint32
}

// NewGraph creates a graph bound to a base table.
func NewGraph(t *Table) *Graph {
	return &Graph{table: t, exts: make(map[uint32]*OpExt)}
}

// Table returns the currently bound table.
func (g *Graph) Table() *Table { return g.table }

// add allocates a node and registers its extension record.
func (g *Graph) add(code Opcode, in0, in1 *Op, ext *OpExt) *Op {
	g.nextID++
	op := &Op{Code: code, ID: g.nextID, In: [2]*Op{in0, in1}}
	if ext != nil {
		g.exts[op.ID] = ext
	}
	return op
}

// ext returns the extension record of an op, nil if none was registered.
func (g *Graph) ext(op *Op) *OpExt { return g.exts[op.ID] }

// ============================================================================
// Graph construction helpers
// ============================================================================

// Scan references a column of the bound table by name.
func (g *Graph) Scan(name string) *Op {
	return g.add(OpScan, nil, nil, &OpExt{Name: name})
}

// ScanTable references the whole bound table.
func (g *Graph) ScanTable() *Op {
	return g.add(OpScan, nil, nil, &OpExt{})
}

// Const embeds a literal column or atom.
func (g *Graph) Const(lit *Column) *Op {
	return g.add(OpConst, nil, nil, &OpExt{Lit: lit})
}

// ConstTable embeds a literal table (join right sides).
func (g *Graph) ConstTable(t *Table) *Op {
	return g.Const(TableCol(t))
}

// Unary builds an element-wise unary node.
func (g *Graph) Unary(code Opcode, in *Op) *Op {
	return g.add(code, in, nil, nil)
}

// Cast builds a cast node to the target kind.
func (g *Graph) Cast(in *Op, target Kind) *Op {
	return g.add(OpCast, in, nil, &OpExt{Target: target})
}

// Binary builds an element-wise binary node.
func (g *Graph) Binary(code Opcode, a, b *Op) *Op {
	return g.add(code, a, b, nil)
}

// Reduce builds a full-column reduction node.
func (g *Graph) Reduce(code Opcode, in *Op) *Op {
	return g.add(code, in, nil, nil)
}

// Filter applies a predicate to a table or vector input.
func (g *Graph) Filter(in, pred *Op) *Op {
	return g.add(OpFilter, in, pred, nil)
}

// Sort orders a table by named columns.
func (g *Graph) Sort(in *Op, cols []string, desc []bool, nullsFirst []bool) *Op {
	return g.add(OpSort, in, nil, &OpExt{SortCols: cols, Desc: desc, NullsFirst: nullsFirst})
}

// Group groups a table by key ops and evaluates aggregates.
func (g *Graph) Group(in *Op, keyNames []string, keys []*Op, aggs []AggSpec) *Op {
	return g.add(OpGroup, in, nil, &OpExt{Keys: keys, KeyNames: keyNames, Aggs: aggs})
}

// Join joins two table-producing inputs on named key columns.
func (g *Graph) Join(left, right *Op, kind JoinKind, leftKeys, rightKeys []string) *Op {
	return g.add(OpJoin, left, right, &OpExt{JoinType: kind, LeftKeys: leftKeys, RightKeys: rightKeys})
}

// Head takes the first n rows.
func (g *Graph) Head(in *Op, n int64) *Op {
	return g.add(OpHead, in, nil, &OpExt{N: n})
}

// Tail takes the last n rows.
func (g *Graph) Tail(in *Op, n int64) *Op {
	return g.add(OpTail, in, nil, &OpExt{N: n})
}

// If builds a ternary select over a condition.
func (g *Graph) If(cond, then, els *Op) *Op {
	return g.add(OpIf, cond, nil, &OpExt{Then: then, Else: els})
}

// Select projects named columns of a table input.
func (g *Graph) Select(in *Op, cols []string) *Op {
	return g.add(OpSelect, in, nil, &OpExt{Cols: cols})
}

// Window evaluates window functions over partition and order keys.
func (g *Graph) Window(in *Op, partKeys, orderKeys []string, funcs []WinFunc, wholeFrame bool) *Op {
	return g.add(OpWindow, in, nil, &OpExt{
		PartKeys: partKeys, OrderKeys: orderKeys, Funcs: funcs, WholeFrame: wholeFrame,
	})
}

// StrOp builds a unary string node (UPPER, LOWER, TRIM, STRLEN).
func (g *Graph) StrOp(code Opcode, in *Op) *Op {
	return g.add(code, in, nil, nil)
}

// Like matches a column against a pattern atom.
func (g *Graph) Like(in, pattern *Op, caseless bool) *Op {
	code := OpLike
	if caseless {
		code = OpILike
	}
	return g.add(code, in, pattern, nil)
}

// Substr extracts [start, start+length) of each string, 1-based start.
func (g *Graph) Substr(in *Op, start, length int64) *Op {
	return g.add(OpSubstr, in, nil, &OpExt{N: start, M: length})
}

// Replace substitutes occurrences of pat with rep in each string.
func (g *Graph) Replace(in, pat, rep *Op) *Op {
	return g.add(OpReplace, in, pat, &OpExt{Args: []*Op{rep}})
}

// Concat concatenates 2..255 string arguments row-wise.
func (g *Graph) Concat(args ...*Op) *Op {
	var in0, in1 *Op
	if len(args) > 0 {
		in0 = args[0]
	}
	if len(args) > 1 {
		in1 = args[1]
	}
	var rest []*Op
	if len(args) > 2 {
		rest = args[2:]
	}
	return g.add(OpConcat, in0, in1, &OpExt{Args: rest})
}

// Extract pulls a calendar field out of a timestamp column.
func (g *Graph) Extract(field TimeField, in *Op) *Op {
	return g.add(OpExtract, in, nil, &OpExt{Field: field})
}

// DateTrunc floors a timestamp column to a unit boundary.
func (g *Graph) DateTrunc(field TimeField, in *Op) *Op {
	return g.add(OpDateTrunc, in, nil, &OpExt{Field: field})
}

// Alias records a name for its input. The executor evaluates the input and
// returns it unchanged; no result column is renamed.
func (g *Graph) Alias(in *Op, name string) *Op {
	return g.add(OpAlias, in, nil, &OpExt{Name: name})
}

// Materialize forces compaction of the pending selection and flattening of
// parted results.
func (g *Graph) Materialize(in *Op) *Op {
	return g.add(OpMaterialize, in, nil, nil)
}

// ============================================================================
// Plan description
// ============================================================================

// DescribeGraph renders the operator tree for debugging.
func DescribeGraph(g *Graph, root *Op) string {
	var b strings.Builder
	describeOp(g, root, 0, &b)
	return b.String()
}

func describeOp(g *Graph, op *Op, indent int, b *strings.Builder) {
	if op == nil {
		return
	}
	b.WriteString(strings.Repeat("  ", indent))
	b.WriteString(op.Code.String())
	if ext := g.ext(op); ext != nil {
		if ext.Name != "" {
			fmt.Fprintf(b, " %q", ext.Name)
		}
		if len(ext.SortCols) > 0 {
			fmt.Fprintf(b, " by=%v desc=%v", ext.SortCols, ext.Desc)
		}
		if len(ext.KeyNames) > 0 {
			fmt.Fprintf(b, " keys=%v naggs=%d", ext.KeyNames, len(ext.Aggs))
		}
		if op.Code == OpHead || op.Code == OpTail {
			fmt.Fprintf(b, " n=%d", ext.N)
		}
		if op.Code == OpJoin {
			fmt.Fprintf(b, " type=%d on=%v", ext.JoinType, ext.LeftKeys)
		}
	}
	b.WriteByte('\n')
	describeOp(g, op.In[0], indent+1, b)
	describeOp(g, op.In[1], indent+1, b)
	if ext := g.ext(op); ext != nil {
		describeOp(g, ext.Then, indent+1, b)
		describeOp(g, ext.Else, indent+1, b)
		for _, a := range ext.Args {
			describeOp(g, a, indent+1, b)
		}
	}
}

// Optimize is the logical-optimizer hook. The executor calls it once per
// Execute; the default pass returns the root unchanged.
var Optimize = func(g *Graph, root *Op) *Op { return root }
