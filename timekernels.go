package caravel

// Calendar kernels over timestamps (microseconds since 2000-01-01) and
// dates (days since 2000-01-01). The civil calendar uses the era-based
// days decomposition; the epoch shift moves the engine's 2000-01-01 zero
// onto the algorithm's 1970-01-01 zero.

// TimeField selects the EXTRACT / DATE_TRUNC unit.
type TimeField uint8

const (
	FieldEpoch TimeField = iota
	FieldYear
	FieldMonth
	FieldDay
	FieldHour
	FieldMinute
	FieldSecond
	FieldDOW // ISO 1..7, Monday = 1
	FieldDOY // 1..366
)

const (
	usPerSecond = int64(1_000_000)
	usPerMinute = 60 * usPerSecond
	usPerHour   = 60 * usPerMinute
	usPerDay    = 24 * usPerHour

	// days from 1970-01-01 to 2000-01-01
	epochShiftDays = 10957
	// seconds from 1970-01-01 to 2000-01-01
	epochShiftSecs = int64(946684800)
)

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 { return a - floorDiv(a, b)*b }

// civilFromDays decomposes days since 1970-01-01 into (year, month, day).
func civilFromDays(z int64) (int64, int, int) {
	z += 719468
	era := floorDiv(z, 146097)
	doe := z - era*146097                                  // [0, 146096]
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365 // [0, 399]
	y := yoe + era*400                                     //
	doy := doe - (365*yoe + yoe/4 - yoe/100)               // [0, 365]
	mp := (5*doy + 2) / 153                                // [0, 11]
	d := int(doy - (153*mp+2)/5 + 1)                       // [1, 31]
	m := int(mp) + 3                                       // [3, 14]
	if m > 12 {
		m -= 12
	}
	if m <= 2 {
		y++
	}
	return y, m, d
}

// daysFromCivil is the inverse of civilFromDays.
func daysFromCivil(y int64, m, d int) int64 {
	if m <= 2 {
		y--
	}
	era := floorDiv(y, 400)
	yoe := y - era*400
	mp := int64(m+9) % 12
	doy := (153*mp+2)/5 + int64(d) - 1
	doe := 365*yoe + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

// tsToMicros widens a timestamp or date column value to microseconds since
// 2000-01-01.
func tsToMicros(c *Column, row int) int64 {
	if c.Kind() == KindDate {
		return c.I64At(row) * usPerDay
	}
	return c.I64At(row)
}

// extractField computes one field of a timestamp.
func extractField(field TimeField, us int64) int64 {
	days1970 := floorDiv(us, usPerDay) + epochShiftDays
	tod := floorMod(us, usPerDay)
	switch field {
	case FieldEpoch:
		return floorDiv(us, usPerSecond) + epochShiftSecs
	case FieldYear:
		y, _, _ := civilFromDays(days1970)
		return y
	case FieldMonth:
		_, m, _ := civilFromDays(days1970)
		return int64(m)
	case FieldDay:
		_, _, d := civilFromDays(days1970)
		return int64(d)
	case FieldHour:
		return tod / usPerHour
	case FieldMinute:
		return (tod % usPerHour) / usPerMinute
	case FieldSecond:
		return (tod % usPerMinute) / usPerSecond
	case FieldDOW:
		return floorMod(days1970+3, 7) + 1
	case FieldDOY:
		y, _, _ := civilFromDays(days1970)
		return days1970 - daysFromCivil(y, 1, 1) + 1
	default:
		return 0
	}
}

// truncField floors a timestamp to a unit boundary: sub-day units by
// floor-modulo, month and year by decompose and rebuild to the first of
// the unit.
func truncField(field TimeField, us int64) int64 {
	switch field {
	case FieldSecond:
		return us - floorMod(us, usPerSecond)
	case FieldMinute:
		return us - floorMod(us, usPerMinute)
	case FieldHour:
		return us - floorMod(us, usPerHour)
	case FieldDay:
		return us - floorMod(us, usPerDay)
	case FieldMonth:
		days1970 := floorDiv(us, usPerDay) + epochShiftDays
		y, m, _ := civilFromDays(days1970)
		return (daysFromCivil(y, m, 1) - epochShiftDays) * usPerDay
	case FieldYear:
		days1970 := floorDiv(us, usPerDay) + epochShiftDays
		y, _, _ := civilFromDays(days1970)
		return (daysFromCivil(y, 1, 1) - epochShiftDays) * usPerDay
	default:
		return us
	}
}

// execExtract evaluates EXTRACT over a timestamp or date column.
func execExtract(field TimeField, in *Column) *Column {
	k := in.Kind()
	if k != KindTimestamp && k != KindDate && k != KindI64 {
		return errVal(ErrNYI)
	}
	if in.IsAtom() {
		return I64Atom(extractField(field, tsToMicros(in, 0)))
	}
	n := in.Len()
	out := NewVec(KindI64, n)
	dst := out.I64s()
	for i := 0; i < n; i++ {
		dst[i] = extractField(field, tsToMicros(in, i))
	}
	return out
}

// execDateTrunc evaluates DATE_TRUNC over a timestamp column.
func execDateTrunc(field TimeField, in *Column) *Column {
	k := in.Kind()
	if k != KindTimestamp && k != KindDate && k != KindI64 {
		return errVal(ErrNYI)
	}
	if in.IsAtom() {
		return TimestampAtom(truncField(field, tsToMicros(in, 0)))
	}
	n := in.Len()
	out := NewVec(KindTimestamp, n)
	dst := out.I64s()
	for i := 0; i < n; i++ {
		dst[i] = truncField(field, tsToMicros(in, i))
	}
	return out
}
