// Package plan walks a working tree and partitions its files into
// size-bounded batches.
//
// Planning happens once, before anything is staged: the resulting Plan is a
// snapshot, and later changes to the tree are not reflected in it. Walking is
// lexical, so the same tree always yields the same batches.
//
// Files larger than the maximum file size are left out and reported as
// skipped. The remaining files are grouped greedily in traversal order; a file
// that alone exceeds the batch limit forms a batch of its own.
package plan
