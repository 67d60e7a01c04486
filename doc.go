// Package caravel is a vectorized query execution core for columnar,
// in-memory analytical data. Given a pre-built operator graph and a table
// of typed columnar vectors, Execute produces a result table by running
// relational operators: scan, filter, group-by, join, sort, window,
// projection, reductions, element-wise expressions and limit.
//
// The engine routes group-by through four strategies (direct-array, radix
// partitioned hash, scalar, per-partition decomposed), sorts through an
// LSB radix over encoded 64-bit keys with a top-N heap fusion, joins
// through a two-phase parallel hash join with an atomic chain build, and
// evaluates element-wise expressions with a morsel-batched register VM.
// A lazy selection bitmap threads WHERE clauses through the operator tree
// and compacts only at boundary operators.
//
// Tables cross the storage boundary as Arrow records, Parquet files or
// row-oriented JSON.
package caravel
