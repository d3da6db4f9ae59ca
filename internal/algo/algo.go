// Package algo provides instrumented sorting algorithms that yield one Frame
// per comparison or move, for playback by the CLI and the HTTP server.
package algo

import (
	"iter"
	"math/rand"
	"sort"
)

// Frame is the array state after one algorithm step.
type Frame struct {
	Values []int  `json:"values"`
	Active []int  `json:"active,omitempty"`
	Sorted []int  `json:"sorted,omitempty"`
	Note   string `json:"note,omitempty"`
}

// Algorithm is a named step generator.
type Algorithm struct {
	Name        string
	Description string
	Run         func(values []int) iter.Seq[Frame]
}

var registry = map[string]Algorithm{
	"bubble":    {Name: "bubble", Description: "bubble sort, one frame per comparison", Run: Bubble},
	"insertion": {Name: "insertion", Description: "insertion sort, one frame per shift", Run: Insertion},
	"selection": {Name: "selection", Description: "selection sort, one frame per scan", Run: Selection},
	"quick":     {Name: "quick", Description: "quicksort with Lomuto partition", Run: Quick},
}

// Lookup returns the named algorithm.
func Lookup(name string) (Algorithm, bool) {
	a, ok := registry[name]
	return a, ok
}

// Names lists the registered algorithms in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RandomInput returns n values in [1, 99].
func RandomInput(n int, r *rand.Rand) []int {
	values := make([]int, n)
	for i := range values {
		values[i] = r.Intn(99) + 1
	}
	return values
}

// Inversions counts out-of-order pairs, 0 for a sorted slice.
func Inversions(values []int) int {
	n := 0
	for i := range values {
		for j := i + 1; j < len(values); j++ {
			if values[i] > values[j] {
				n++
			}
		}
	}
	return n
}

// frame snapshots a so later mutation does not leak into emitted frames.
func frame(a []int, note string, sorted []int, active ...int) Frame {
	return Frame{
		Values: append([]int(nil), a...),
		Active: active,
		Sorted: append([]int(nil), sorted...),
		Note:   note,
	}
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

// Bubble yields a frame per comparison.
func Bubble(values []int) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		a := append([]int(nil), values...)
		n := len(a)
		for pass := 0; pass < n-1; pass++ {
			sorted := span(n-pass, n)
			for i := 0; i < n-1-pass; i++ {
				note := "keep"
				if a[i] > a[i+1] {
					a[i], a[i+1] = a[i+1], a[i]
					note = "swap"
				}
				if !yield(frame(a, note, sorted, i, i+1)) {
					return
				}
			}
		}
		yield(frame(a, "done", span(0, n)))
	}
}

// Insertion yields a frame per shift and per insertion.
func Insertion(values []int) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		a := append([]int(nil), values...)
		for i := 1; i < len(a); i++ {
			key := a[i]
			j := i - 1
			for j >= 0 && a[j] > key {
				a[j+1] = a[j]
				a[j] = key
				if !yield(frame(a, "shift", span(0, i+1), j, j+1)) {
					return
				}
				j--
			}
			if !yield(frame(a, "insert", span(0, i+1), j+1)) {
				return
			}
		}
		yield(frame(a, "done", span(0, len(a))))
	}
}

// Selection yields a frame per scanned element and per placement.
func Selection(values []int) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		a := append([]int(nil), values...)
		for i := 0; i < len(a)-1; i++ {
			low := i
			for j := i + 1; j < len(a); j++ {
				if a[j] < a[low] {
					low = j
				}
				if !yield(frame(a, "scan", span(0, i), low, j)) {
					return
				}
			}
			a[i], a[low] = a[low], a[i]
			if !yield(frame(a, "place", span(0, i+1), i)) {
				return
			}
		}
		yield(frame(a, "done", span(0, len(a))))
	}
}

// Quick yields a frame per partition comparison and pivot placement.
func Quick(values []int) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		a := append([]int(nil), values...)
		var placed []int

		var quick func(lo, hi int) bool
		quick = func(lo, hi int) bool {
			if lo >= hi {
				if lo == hi {
					placed = append(placed, lo)
				}
				return true
			}
			pivot := a[hi]
			i := lo
			for j := lo; j < hi; j++ {
				if a[j] < pivot {
					a[i], a[j] = a[j], a[i]
					i++
				}
				if !yield(frame(a, "partition", placed, j, hi)) {
					return false
				}
			}
			a[i], a[hi] = a[hi], a[i]
			placed = append(placed, i)
			if !yield(frame(a, "pivot", placed, i)) {
				return false
			}
			return quick(lo, i-1) && quick(i+1, hi)
		}

		if quick(0, len(a)-1) {
			yield(frame(a, "done", span(0, len(a))))
		}
	}
}
