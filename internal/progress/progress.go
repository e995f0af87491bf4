// Package progress implements the progress-reporting abstraction used by
// ubload's long-running operations: image erase and staged-file program/
// dump. Hashing an image (image.Verify) does not report progress. It is the Go rendering of the C source's
// (fn_ptr, void *ctx) callback pair: a small function type instead of a
// closure-free function pointer plus opaque context.
package progress

// Signal is returned by a Reporter to control the operation driving it.
type Signal int

const (
	// Continue lets the operation proceed to its next chunk or sector.
	Continue Signal = iota
	// Cancel aborts the operation at the next chunk/sector boundary.
	// Cancellation is never mid-sector or mid-chunk (§5).
	Cancel
)

// Reporter receives progress updates from a long-running operation. done
// and total share units with the caller (sectors, bytes, whatever the
// operation is measured in). An operation invokes a Reporter after each
// chunk/sector; the call after the last one has done == total. There is
// no call before the first chunk/sector.
type Reporter interface {
	OnProgress(done, total uint32) Signal
}

// Func adapts a plain function to the Reporter interface.
type Func func(done, total uint32) Signal

// OnProgress implements Reporter.
func (f Func) OnProgress(done, total uint32) Signal {
	if f == nil {
		return Continue
	}
	return f(done, total)
}

// Noop is a Reporter that always continues and reports nothing. Report
// treats a nil Reporter the same way.
var Noop Reporter = Func(func(uint32, uint32) Signal { return Continue })

// Report is a nil-safe convenience: report on r, treating a nil Reporter
// the same as Noop.
func Report(r Reporter, done, total uint32) Signal {
	if r == nil {
		return Continue
	}
	return r.OnProgress(done, total)
}
