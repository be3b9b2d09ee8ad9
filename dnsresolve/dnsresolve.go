// Package dnsresolve is the request/poll DNS helper called for in
// §4.9: hostname resolution is the one blocking call this module keeps
// off the cooperative tick loop, grounded on
// original_source/src/DNSResolver.cpp's DNSResolver. The original
// launches a std::async future per lookup and polls it from Update;
// this package starts one goroutine per Resolve call and hands the
// result back over a buffered channel that Poll drains non-blockingly,
// the same shape the rest of this module uses for its other background
// worker (nettransport's reader goroutine).
package dnsresolve

import (
	"context"
	"net"
)

// Status mirrors the original's RESOLVE_IN_PROGRESS / _SUCCEEDED /
// _FAILED enum.
type Status int

const (
	InProgress Status = iota
	Succeeded
	Failed
)

// ResolveResult is the outcome of a completed lookup: the resolved
// addresses, in the order net.DefaultResolver returned them, or an
// error if the lookup failed.
type ResolveResult struct {
	Addrs []net.IPAddr
	Err   error
}

// ResolveRequest tracks one in-flight or completed lookup. Poll is the
// only method safe to call from the cooperative tick loop; the
// goroutine started by Resolve never touches ResolveRequest's fields
// directly, only sends on done.
type ResolveRequest struct {
	Host   string
	cancel context.CancelFunc
	done   chan ResolveResult

	status Status
	result ResolveResult
}

// Resolve starts resolving host in the background and returns
// immediately with a request to Poll. The lookup is canceled if the
// request is abandoned by calling Cancel, or if ctx is itself
// canceled; ctx controls only the lookup's lifetime, not how often the
// caller polls.
func Resolve(ctx context.Context, host string) (*ResolveRequest, error) {
	lookupCtx, cancel := context.WithCancel(ctx)

	req := &ResolveRequest{
		Host:   host,
		cancel: cancel,
		done:   make(chan ResolveResult, 1),
		status: InProgress,
	}

	go func() {
		addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
		req.done <- ResolveResult{Addrs: addrs, Err: err}
	}()

	return req, nil
}

// Poll reports whether the lookup has finished and, if so, its result.
// It never blocks and is safe to call every tick. Once it has returned
// ready once, it keeps returning the same result on every subsequent
// call.
func (r *ResolveRequest) Poll() (ResolveResult, bool) {
	if r.status != InProgress {
		return r.result, true
	}

	select {
	case res := <-r.done:
		r.result = res
		if res.Err != nil || len(res.Addrs) == 0 {
			r.status = Failed
		} else {
			r.status = Succeeded
		}
		return r.result, true
	default:
		return ResolveResult{}, false
	}
}

// Status reports the request's current state without consuming it.
func (r *ResolveRequest) Status() Status {
	return r.status
}

// Cancel abandons the lookup. The background goroutine's context is
// canceled, but its result (or cancellation error) is still delivered
// to done; a Poll after Cancel returns that result rather than
// blocking forever on an orphaned request.
func (r *ResolveRequest) Cancel() {
	r.cancel()
}
