package caravel

import "strings"

// String kernels operate over interned-symbol columns: each row's symbol
// resolves to its string, transforms, and re-interns. String atoms pass
// through the same transforms directly.

// symApply maps every row's string through fn into a fresh symbol column.
func symApply(in *Column, fn func(string) string) *Column {
	if in.Kind() == KindStr {
		return StrAtom(fn(in.Str()))
	}
	if in.Kind() != KindSym {
		return errVal(ErrNYI)
	}
	n := in.Len()
	ids := make([]int64, n)
	var maxID int64
	for i := 0; i < n; i++ {
		ids[i] = SymIntern(fn(SymStr(in.I64At(i))))
		if ids[i] > maxID {
			maxID = ids[i]
		}
	}
	out := NewSymVec(symWidthAttr(maxID), n)
	for i, id := range ids {
		writeColI64(out.data, i, KindSym, out.attrs, id)
	}
	return out
}

func execUpper(in *Column) *Column { return symApply(in, strings.ToUpper) }
func execLower(in *Column) *Column { return symApply(in, strings.ToLower) }
func execTrim(in *Column) *Column  { return symApply(in, strings.TrimSpace) }

// execStrLen returns byte lengths as I64.
func execStrLen(in *Column) *Column {
	if in.Kind() == KindStr {
		return I64Atom(int64(in.Len()))
	}
	if in.Kind() != KindSym {
		return errVal(ErrNYI)
	}
	n := in.Len()
	out := NewVec(KindI64, n)
	dst := out.I64s()
	for i := 0; i < n; i++ {
		dst[i] = int64(len(SymStr(in.I64At(i))))
	}
	return out
}

// execSubstr extracts [start, start+length) with a 1-based start, clamped
// to the string.
func execSubstr(in *Column, start, length int64) *Column {
	if start < 1 || length < 0 {
		return errVal(ErrDomain)
	}
	return symApply(in, func(s string) string {
		lo := int(start - 1)
		if lo >= len(s) {
			return ""
		}
		hi := lo + int(length)
		if hi > len(s) {
			hi = len(s)
		}
		return s[lo:hi]
	})
}

// execReplace substitutes every occurrence of pat with rep. An empty
// pattern leaves the string unchanged.
func execReplace(in, pat, rep *Column) *Column {
	if pat.Kind() != KindStr || rep.Kind() != KindStr {
		return errVal(ErrDomain)
	}
	p, r := pat.Str(), rep.Str()
	if p == "" {
		return in.Retain()
	}
	return symApply(in, func(s string) string {
		return strings.ReplaceAll(s, p, r)
	})
}

// execConcat concatenates the argument strings row-wise. Argument count
// outside [2, 255] is a domain error.
func execConcat(args []*Column) *Column {
	if len(args) < 2 || len(args) > 255 {
		return errVal(ErrDomain)
	}
	n := 1
	for _, a := range args {
		if a.Kind() == KindSym && !a.IsAtom() {
			n = a.Len()
			break
		}
	}
	strAt := func(c *Column, row int) string {
		switch c.Kind() {
		case KindStr:
			return c.Str()
		case KindSym:
			if c.IsAtom() {
				return SymStr(c.I64At(0))
			}
			return SymStr(c.I64At(row))
		default:
			return ""
		}
	}
	for _, a := range args {
		if a.Kind() != KindStr && a.Kind() != KindSym {
			return errVal(ErrNYI)
		}
		if a.Kind() == KindSym && !a.IsAtom() && a.Len() != n {
			return errVal(ErrLength)
		}
	}
	ids := make([]int64, n)
	var maxID int64
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.Reset()
		for _, a := range args {
			b.WriteString(strAt(a, i))
		}
		ids[i] = SymIntern(b.String())
		if ids[i] > maxID {
			maxID = ids[i]
		}
	}
	out := NewSymVec(symWidthAttr(maxID), n)
	for i, id := range ids {
		writeColI64(out.data, i, KindSym, out.attrs, id)
	}
	return out
}

// likeMatch is the classic two-pointer matcher: % matches any run, _ one
// byte. caseless folds ASCII letters.
func likeMatch(s, pat string, caseless bool) bool {
	fold := func(c byte) byte {
		if caseless && c >= 'A' && c <= 'Z' {
			return c + 'a' - 'A'
		}
		return c
	}
	si, pi := 0, 0
	starSi, starPi := -1, -1
	for si < len(s) {
		if pi < len(pat) && (pat[pi] == '_' || fold(pat[pi]) == fold(s[si])) {
			si++
			pi++
		} else if pi < len(pat) && pat[pi] == '%' {
			starPi = pi
			starSi = si
			pi++
		} else if starPi >= 0 {
			starSi++
			si = starSi
			pi = starPi + 1
		} else {
			return false
		}
	}
	for pi < len(pat) && pat[pi] == '%' {
		pi++
	}
	return pi == len(pat)
}

// execLike matches a symbol column against a string pattern atom.
func execLike(in, pat *Column, caseless bool) *Column {
	if pat.Kind() != KindStr {
		return errVal(ErrDomain)
	}
	p := pat.Str()
	if in.Kind() == KindStr {
		return BoolAtom(likeMatch(in.Str(), p, caseless))
	}
	if in.Kind() != KindSym {
		return errVal(ErrNYI)
	}
	n := in.Len()
	out := NewVec(KindBool, n)
	dst := out.Bools()
	for i := 0; i < n; i++ {
		dst[i] = b2u8(likeMatch(SymStr(in.I64At(i)), p, caseless))
	}
	return out
}
