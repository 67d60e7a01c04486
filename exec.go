package caravel

// The recursive executor. execNode dispatches one operator by opcode;
// Execute owns the per-query state: it clears the cancellation flag on
// entry, threads the lazy selection through the tree, and compacts a
// surviving selection into the final table on exit.

// Execute runs the graph rooted at root and returns a column, table
// column, atom, or error sentinel.
func Execute(g *Graph, root *Op) *Column {
	pool := poolGet()
	pool.resetCancel()
	g.selection = nil
	root = Optimize(g, root)
	res := execNode(g, root)
	// A filter followed directly by a terminal leaves its selection
	// pending; fold it into the final table.
	if g.selection != nil {
		if !isErr(res) && res.Kind() == KindTable {
			compacted := selCompact(res.Table(), g.selection)
			res.Release()
			res = TableCol(compacted)
		}
		g.selection = nil
	}
	return res
}

// Run is the error-returning surface over Execute.
func Run(g *Graph, root *Op) (*Column, error) {
	res := Execute(g, root)
	if isErr(res) {
		return nil, res.errKind
	}
	return res, nil
}

func execNode(g *Graph, op *Op) *Column {
	if op == nil {
		return errVal(ErrDomain)
	}
	pool := poolGet()
	if pool.Cancelled() {
		return errVal(ErrCancel)
	}

	switch {
	case op.Code == OpScan:
		ext := g.ext(op)
		if g.table == nil {
			return errVal(ErrSchema)
		}
		if ext == nil || ext.Name == "" {
			return TableCol(g.table.Retain())
		}
		col := g.table.GetColNamed(ext.Name)
		if col == nil {
			return errVal(ErrSchema)
		}
		return col.Retain()

	case op.Code == OpConst:
		ext := g.ext(op)
		if ext == nil || ext.Lit == nil {
			return errVal(ErrDomain)
		}
		return ext.Lit.Retain()

	case op.Code.isElementwise():
		return execElementwise(g, op)

	case op.Code.isReduction():
		return execReduction(g, op)
	}

	switch op.Code {
	case OpFilter:
		return execFilterNode(g, op)
	case OpSort:
		return execSortNode(g, op, 0)
	case OpGroup:
		return execGroupNode(g, op, 0)
	case OpJoin:
		return execJoinNode(g, op)
	case OpWindow:
		return execWindowNode(g, op)
	case OpHead:
		return execHeadNode(g, op)
	case OpTail:
		return execTailNode(g, op)
	case OpIf:
		return execIfNode(g, op)
	case OpSelect:
		return execSelectNode(g, op)
	case OpUpper, OpLower, OpTrim, OpStrLen:
		in := execNode(g, op.In[0])
		if isErr(in) {
			return in
		}
		defer in.Release()
		switch op.Code {
		case OpUpper:
			return execUpper(in)
		case OpLower:
			return execLower(in)
		case OpTrim:
			return execTrim(in)
		default:
			return execStrLen(in)
		}
	case OpLike, OpILike:
		in := execNode(g, op.In[0])
		if isErr(in) {
			return in
		}
		defer in.Release()
		pat := execNode(g, op.In[1])
		if isErr(pat) {
			return pat
		}
		defer pat.Release()
		return execLike(in, pat, op.Code == OpILike)
	case OpSubstr:
		ext := g.ext(op)
		in := execNode(g, op.In[0])
		if isErr(in) {
			return in
		}
		defer in.Release()
		return execSubstr(in, ext.N, ext.M)
	case OpReplace:
		ext := g.ext(op)
		if ext == nil || len(ext.Args) != 1 {
			return errVal(ErrDomain)
		}
		in := execNode(g, op.In[0])
		if isErr(in) {
			return in
		}
		defer in.Release()
		pat := execNode(g, op.In[1])
		if isErr(pat) {
			return pat
		}
		defer pat.Release()
		rep := execNode(g, ext.Args[0])
		if isErr(rep) {
			return rep
		}
		defer rep.Release()
		return execReplace(in, pat, rep)
	case OpConcat:
		return execConcatNode(g, op)
	case OpExtract, OpDateTrunc:
		ext := g.ext(op)
		in := execNode(g, op.In[0])
		if isErr(in) {
			return in
		}
		defer in.Release()
		src := in
		if in.isParted() {
			src = in.materialize()
			defer src.Release()
		}
		if op.Code == OpExtract {
			return execExtract(ext.Field, src)
		}
		return execDateTrunc(ext.Field, src)
	case OpAlias:
		return execNode(g, op.In[0])
	case OpMaterialize:
		return execMaterializeNode(g, op)
	default:
		return errVal(ErrNYI)
	}
}

// ============================================================================
// Element-wise dispatch
// ============================================================================

// execElementwise first tries the compiled morsel VM; rejection falls back
// to the recursive per-node evaluator.
func execElementwise(g *Graph, op *Op) *Column {
	if g.table != nil && g.table.hasParted() {
		if out := execElementwiseParted(g, op); out != nil {
			return out
		}
	} else if g.table != nil {
		if prog := exprCompile(g, op); prog != nil {
			return exprEvalFull(prog, g.table.NumRows())
		}
	}

	// Fallback: recursive evaluation of the children, then the scalar
	// kernels.
	if op.Code.isUnary() {
		in := execNode(g, op.In[0])
		if isErr(in) {
			return in
		}
		defer in.Release()
		var target Kind
		if ext := g.ext(op); ext != nil {
			target = ext.Target
		}
		return execElementwiseUnary(op.Code, in, target)
	}
	a := execNode(g, op.In[0])
	if isErr(a) {
		return a
	}
	defer a.Release()
	b := execNode(g, op.In[1])
	if isErr(b) {
		return b
	}
	defer b.Release()
	return execElementwiseBinary(op.Code, a, b)
}

// execElementwiseParted compiles once against the first partition and
// iterates the program per segment with the scan registers rebound.
// Returns nil when the expression does not compile that way.
func execElementwiseParted(g *Graph, op *Op) *Column {
	shape := partedShape(g.table.cols)
	if shape == nil || len(shape.counts) == 0 {
		return nil
	}
	sub := NewTable(g.table.NumCols())
	for i := 0; i < g.table.NumCols(); i++ {
		sub.AddCol(g.table.ColName(i), partitionOf(g.table.Col(i), shape, 0))
	}
	g2 := &Graph{table: sub, exts: g.exts}
	prog := exprCompile(g2, op)
	if prog == nil {
		sub.Release()
		return nil
	}
	segs := make([]*Column, len(shape.counts))
	for part := range shape.counts {
		seg := prog
		if part > 0 {
			cols := make([]*Column, len(prog.scanNames))
			for i, name := range prog.scanNames {
				cols[i] = partitionOf(g.table.GetColNamed(name), shape, part)
			}
			seg = prog.rebindSeg(cols)
			defer func(cs []*Column) {
				for _, c := range cs {
					c.Release()
				}
			}(cols)
		}
		segs[part] = exprEvalFull(seg, shape.counts[part])
	}
	sub.Release()
	return PartedCol(segs)
}

// ============================================================================
// Reductions
// ============================================================================

func execReduction(g *Graph, op *Op) *Column {
	// A pending selection over the base table filters any row-aligned
	// vector derived from it.
	sel := g.selection

	// Linear integer expressions under SUM/AVG aggregate the base scans
	// and fold coefficients in afterwards.
	if (op.Code == OpSum || op.Code == OpAvg) && g.table != nil && !g.table.hasParted() {
		if terms, bias, ok := parseLinearExpr(g, op.In[0]); ok {
			out := execReduceLinear(op.Code, terms, bias, g.table.NumRows(), sel)
			g.selection = nil
			return out
		}
	}

	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() == KindTable {
		return errVal(ErrNYI)
	}
	if sel != nil && g.table != nil && in.Len() == g.table.NumRows() {
		out := execReduce(op.Code, in, sel)
		g.selection = nil
		return out
	}
	return execReduce(op.Code, in, nil)
}

// ============================================================================
// Filter
// ============================================================================

func execFilterNode(g *Graph, op *Op) *Column {
	// FILTER(GROUP) is HAVING: evaluate the grouping, bind the predicate
	// against its result, compact eagerly.
	if op.In[0] != nil && op.In[0].Code == OpGroup {
		grouped := execGroupNode(g, op.In[0], 0)
		if isErr(grouped) {
			return grouped
		}
		saved := g.table
		g.table = grouped.Table()
		pred := execNode(g, op.In[1])
		g.table = saved
		if isErr(pred) {
			grouped.Release()
			return pred
		}
		if pred.Kind() != KindBool {
			pred.Release()
			grouped.Release()
			return errVal(ErrNYI)
		}
		out := execFilterTable(grouped.Table(), pred)
		pred.Release()
		grouped.Release()
		if out == nil {
			return errVal(ErrLength)
		}
		return TableCol(out)
	}

	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	pred := execNode(g, op.In[1])
	if isErr(pred) {
		in.Release()
		return pred
	}
	defer pred.Release()

	if in.Kind() == KindTable {
		if pred.Kind() != KindBool || pred.IsAtom() {
			in.Release()
			return errVal(ErrNYI)
		}
		if pred.Len() != in.Table().NumRows() {
			in.Release()
			return errVal(ErrLength)
		}
		// Lazy: AND-merge into the graph selection and pass the table
		// through untouched.
		sel := selFromPred(pred)
		if g.selection != nil {
			g.selection = selAnd(g.selection, sel)
		} else {
			g.selection = sel
		}
		return in
	}

	defer in.Release()
	if pred.Kind() != KindBool {
		return errVal(ErrNYI)
	}
	return execFilterVec(in, pred)
}

// consumeSelection compacts and clears a pending selection over a table.
func consumeSelection(g *Graph, t *Table) *Table {
	if g.selection == nil {
		return t.Retain()
	}
	out := selCompact(t, g.selection)
	g.selection = nil
	return out
}

// ============================================================================
// Sort / Join / Window boundary ops
// ============================================================================

func execSortNode(g *Graph, op *Op, limit int) *Column {
	ext := g.ext(op)
	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() != KindTable {
		return errVal(ErrNYI)
	}
	t := consumeSelection(g, in.Table())
	defer t.Release()

	out, ek := execSort(t, ext.SortCols, ext.Desc, ext.NullsFirst, limit)
	if ek != ErrNone {
		return errVal(ek)
	}
	return TableCol(out)
}

func execJoinNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	left := execNode(g, op.In[0])
	if isErr(left) {
		return left
	}
	right := execNode(g, op.In[1])
	if isErr(right) {
		left.Release()
		return right
	}
	defer left.Release()
	defer right.Release()
	if left.Kind() != KindTable || right.Kind() != KindTable {
		return errVal(ErrNYI)
	}
	lt := consumeSelection(g, left.Table())
	defer lt.Release()

	out, ek := execJoin(lt, right.Table(), ext.JoinType, ext.LeftKeys, ext.RightKeys)
	if ek != ErrNone {
		return errVal(ek)
	}
	return TableCol(out)
}

func execWindowNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() != KindTable {
		return errVal(ErrNYI)
	}
	t := consumeSelection(g, in.Table())
	defer t.Release()

	out, ek := execWindow(t, ext.PartKeys, ext.OrderKeys, ext.Funcs, ext.WholeFrame)
	if ek != ErrNone {
		return errVal(ek)
	}
	return TableCol(out)
}

// ============================================================================
// Group
// ============================================================================

// groupInputsAreScans reports whether every key and agg input is a plain
// scan, which lets the grouping honor the selection lazily.
func groupInputsAreScans(g *Graph, ext *OpExt) bool {
	for _, k := range ext.Keys {
		if k.Code != OpScan {
			return false
		}
	}
	for _, a := range ext.Aggs {
		if a.Input != nil && a.Input.Code != OpScan {
			return false
		}
	}
	return true
}

func execGroupNode(g *Graph, op *Op, groupLimit int) *Column {
	ext := g.ext(op)
	if ext == nil {
		return errVal(ErrDomain)
	}
	if len(ext.Keys) > groupMaxKeys || len(ext.Aggs) > groupMaxAggs {
		return errVal(ErrNYI)
	}
	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() != KindTable {
		return errVal(ErrNYI)
	}

	lazySel := groupInputsAreScans(g, ext) && !in.Table().hasParted()
	t := in.Table()
	var owned *Table
	if !lazySel {
		owned = consumeSelection(g, t)
		t = owned
		defer owned.Release()
	}

	saved := g.table
	g.table = t
	defer func() { g.table = saved }()

	// Evaluate key and aggregate input vectors against the group's table.
	keyCols := make([]*Column, len(ext.Keys))
	aggInputs := make([]*Column, len(ext.Aggs))
	release := func() {
		for _, c := range keyCols {
			c.Release()
		}
		for _, c := range aggInputs {
			if c != nil {
				c.Release()
			}
		}
	}
	for i, k := range ext.Keys {
		col := execNode(g, k)
		if isErr(col) {
			release()
			return col
		}
		keyCols[i] = col
	}
	for i, a := range ext.Aggs {
		if a.Input == nil {
			continue
		}
		col := execNode(g, a.Input)
		if isErr(col) {
			release()
			return col
		}
		aggInputs[i] = col
	}
	defer release()

	plan, ek := buildGroupPlan(ext.KeyNames, keyCols, ext.Aggs, aggInputs)
	if ek != ErrNone {
		return errVal(ek)
	}

	// Scalar path: no keys means a one-row table of full-column
	// aggregates.
	if len(ext.Keys) == 0 {
		return execGroupScalar(g, ext, aggInputs)
	}

	anyParted := false
	for _, c := range keyCols {
		if c.isParted() {
			anyParted = true
		}
	}
	for _, c := range aggInputs {
		if c != nil && c.isParted() {
			anyParted = true
		}
	}

	var out *Table
	if anyParted {
		out, ek = execGroupParted(plan, groupLimit)
	} else {
		sel := g.selection
		if lazySel {
			g.selection = nil
		}
		out, ek = execGroupPlan(plan, sel)
	}
	if ek != ErrNone {
		return errVal(ek)
	}
	return TableCol(out)
}

// execGroupScalar evaluates keyless aggregates into a one-row table.
func execGroupScalar(g *Graph, ext *OpExt, aggInputs []*Column) *Column {
	sel := g.selection
	g.selection = nil
	out := NewTable(len(ext.Aggs))
	for i, spec := range ext.Aggs {
		var atom *Column
		if spec.Op == OpCount && spec.Input == nil {
			n := int64(g.table.NumRows())
			if sel != nil {
				n = int64(sel.totalPass)
			}
			atom = I64Atom(n)
		} else if (spec.Op == OpSum || spec.Op == OpAvg) && spec.Input != nil {
			if terms, bias, ok := parseLinearExpr(g, spec.Input); ok && !g.table.hasParted() {
				atom = execReduceLinear(spec.Op, terms, bias, g.table.NumRows(), sel)
			}
		}
		if atom == nil {
			in := aggInputs[i]
			if in == nil {
				out.Release()
				return errVal(ErrSchema)
			}
			atom = execReduce(spec.Op, in, sel)
		}
		if isErr(atom) {
			out.Release()
			return atom
		}
		vec := atomToVec(atom)
		atom.Release()
		out.AddColNamed(spec.Name, vec)
	}
	return TableCol(out)
}

// atomToVec widens an atom into a one-row vector column.
func atomToVec(a *Column) *Column {
	k := a.Kind()
	out := NewVec(k, 1)
	if k == KindF64 {
		out.F64s()[0] = a.F64At(0)
	} else {
		writeColI64(out.data, 0, k, out.attrs, a.I64At(0))
	}
	return out
}

// ============================================================================
// HEAD / TAIL and fusions
// ============================================================================

func execHeadNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	n := int(ext.N)
	child := op.In[0]

	// HEAD(SORT) runs the sort with a limit; HEAD(FILTER) scans the
	// predicate with an early exit; HEAD(GROUP) truncates the partition
	// loop when the keys allow.
	if child != nil {
		switch child.Code {
		case OpSort:
			return execSortNode(g, child, n)
		case OpFilter:
			if out := execHeadFilter(g, child, n); out != nil {
				return out
			}
		case OpGroup:
			res := execGroupNode(g, child, n)
			if isErr(res) {
				return res
			}
			defer res.Release()
			return headTailTable(res.Table(), n, false)
		}
	}

	in := execNode(g, child)
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() == KindTable {
		t := consumeSelection(g, in.Table())
		defer t.Release()
		return headTailTable(t, n, false)
	}
	return headTailCol(in, n, false)
}

// execHeadFilter is the fused HEAD(FILTER) shape over a table input.
// Returns nil when the shapes do not line up and the generic path applies.
func execHeadFilter(g *Graph, filterOp *Op, n int) *Column {
	in := execNode(g, filterOp.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() != KindTable {
		return nil
	}
	pred := execNode(g, filterOp.In[1])
	if isErr(pred) {
		return pred
	}
	defer pred.Release()
	if pred.Kind() != KindBool || pred.IsAtom() {
		return nil
	}
	t := consumeSelection(g, in.Table())
	defer t.Release()
	out := execFilterHead(t, pred, int64(n))
	if out == nil {
		return errVal(ErrLength)
	}
	return TableCol(out)
}

func execTailNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	n := int(ext.N)
	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() == KindTable {
		t := consumeSelection(g, in.Table())
		defer t.Release()
		return headTailTable(t, n, true)
	}
	return headTailCol(in, n, true)
}

// headTailCol copies the first or last n rows of a column, materializing
// segmented sources.
func headTailCol(c *Column, n int, tail bool) *Column {
	src := c
	if c.isParted() {
		src = c.materialize()
		defer src.Release()
	}
	if n > src.Len() {
		n = src.Len()
	}
	start := 0
	if tail {
		start = src.Len() - n
	}
	k := src.Kind()
	var out *Column
	if k == KindSym {
		out = NewSymVec(src.attrs, n)
	} else {
		out = NewVec(k, n)
	}
	esz := src.elemSize()
	copy(out.data, src.data[start*esz:(start+n)*esz])
	return out
}

func headTailTable(t *Table, n int, tail bool) *Column {
	out := NewTable(t.NumCols())
	for i := 0; i < t.NumCols(); i++ {
		out.AddCol(t.ColName(i), headTailCol(t.Col(i), n, tail))
	}
	return TableCol(out)
}

// ============================================================================
// IF / SELECT / CONCAT / MATERIALIZE
// ============================================================================

func execIfNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	if ext == nil || ext.Then == nil || ext.Else == nil {
		return errVal(ErrDomain)
	}
	cond := execNode(g, op.In[0])
	if isErr(cond) {
		return cond
	}
	defer cond.Release()
	then := execNode(g, ext.Then)
	if isErr(then) {
		return then
	}
	defer then.Release()
	els := execNode(g, ext.Else)
	if isErr(els) {
		return els
	}
	defer els.Release()
	return execIf(cond, then, els)
}

// execIf is the ternary select: arms may each be scalar or vector; string
// scalars combine with symbol arms through the intern table.
func execIf(cond, then, els *Column) *Column {
	if cond.Kind() != KindBool {
		return errVal(ErrNYI)
	}
	if cond.IsAtom() {
		if cond.I64At(0) != 0 {
			return then.Retain()
		}
		return els.Retain()
	}
	n := cond.Len()
	cd := cond.Bools()

	symOut := then.Kind() == KindSym || els.Kind() == KindSym ||
		then.Kind() == KindStr || els.Kind() == KindStr
	if symOut {
		symAt := func(c *Column, row int) int64 {
			if c.Kind() == KindStr {
				return SymIntern(c.Str())
			}
			return c.I64At(bcast(c, row))
		}
		out := NewSymVec(3, n)
		dst := out.I64s()
		for i := 0; i < n; i++ {
			if cd[i] != 0 {
				dst[i] = symAt(then, i)
			} else {
				dst[i] = symAt(els, i)
			}
		}
		return out
	}

	want := promote(then.Kind(), els.Kind())
	if want == KindF64 {
		out := NewVec(KindF64, n)
		dst := out.F64s()
		for i := 0; i < n; i++ {
			if cd[i] != 0 {
				dst[i] = then.F64At(bcast(then, i))
			} else {
				dst[i] = els.F64At(bcast(els, i))
			}
		}
		return out
	}
	out := NewVec(KindI64, n)
	dst := out.I64s()
	for i := 0; i < n; i++ {
		if cd[i] != 0 {
			dst[i] = then.I64At(bcast(then, i))
		} else {
			dst[i] = els.I64At(bcast(els, i))
		}
	}
	return out
}

func execSelectNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	defer in.Release()
	if in.Kind() != KindTable {
		return errVal(ErrNYI)
	}
	t := in.Table()
	out := NewTable(len(ext.Cols))
	for _, name := range ext.Cols {
		c := t.GetColNamed(name)
		if c == nil {
			out.Release()
			return errVal(ErrSchema)
		}
		out.AddColNamed(name, c.Retain())
	}
	return TableCol(out)
}

func execConcatNode(g *Graph, op *Op) *Column {
	ext := g.ext(op)
	nargs := 0
	for _, in := range op.In {
		if in != nil {
			nargs++
		}
	}
	if ext != nil {
		nargs += len(ext.Args)
	}
	if nargs < 2 || nargs > 255 {
		return errVal(ErrDomain)
	}
	cols := make([]*Column, 0, nargs)
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for _, in := range op.In {
		if in == nil {
			continue
		}
		c := execNode(g, in)
		if isErr(c) {
			return c
		}
		cols = append(cols, c)
	}
	if ext != nil {
		for _, a := range ext.Args {
			c := execNode(g, a)
			if isErr(c) {
				return c
			}
			cols = append(cols, c)
		}
	}
	return execConcat(cols)
}

func execMaterializeNode(g *Graph, op *Op) *Column {
	in := execNode(g, op.In[0])
	if isErr(in) {
		return in
	}
	if in.Kind() == KindTable {
		defer in.Release()
		t := consumeSelection(g, in.Table())
		out := NewTable(t.NumCols())
		for i := 0; i < t.NumCols(); i++ {
			out.AddCol(t.ColName(i), t.Col(i).materialize())
		}
		t.Release()
		return TableCol(out)
	}
	if in.isParted() {
		defer in.Release()
		return in.materialize()
	}
	return in
}
