package ribclient

import (
	"context"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
)

// RouteAdd is the field set of one route addition, add_route's parameter
// list in rib_client.hh.
type RouteAdd struct {
	Dest           prefix.Prefix
	Gateway        prefix.Addr
	Ifname         string
	Vifname        string
	Metric         uint32
	AdminDistance  uint32
	ProtocolOrigin string
}

// RouteDelete is one route deletion.
type RouteDelete struct {
	Dest prefix.Prefix
}

// Transport is RibTransport (SPEC_FULL.md §6): the RIB's transactional
// FTI protocol — start a transaction, add or delete entries against it,
// commit. Replies are delivered via callback, which may run on any
// goroutine; Client funnels them back onto its own loop goroutine before
// touching any state, exactly as nexthop.Resolver does for the next-hop
// RPC surface.
type Transport interface {
	StartTransaction(ctx context.Context, target string, reply func(tid uint32, err error))
	CommitTransaction(ctx context.Context, target string, tid uint32, reply func(err error))
	AddRoute4(ctx context.Context, target string, tid uint32, add RouteAdd, reply func(err error))
	DeleteRoute4(ctx context.Context, target string, tid uint32, del RouteDelete, reply func(err error))
	AddRoute6(ctx context.Context, target string, tid uint32, add RouteAdd, reply func(err error))
	DeleteRoute6(ctx context.Context, target string, tid uint32, del RouteDelete, reply func(err error))
}

// Op identifies whether a TaskRecord is an addition or deletion, for the
// benefit of an optional TransactionObserver (e.g. an audit writer).
type Op int

const (
	OpAdd Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "add"
}

// TaskRecord is the durable description of one committed (or abandoned)
// task, independent of the live *RouteAdd/*RouteDelete it came from.
type TaskRecord struct {
	Op   Op
	Dest prefix.Prefix
}

// task is one queued RibClientTask; exactly one of add or del is set.
type task struct {
	add *RouteAdd
	del *RouteDelete
}

func (t task) dest() prefix.Prefix {
	if t.add != nil {
		return t.add.Dest
	}
	return t.del.Dest
}

func (t task) record() TaskRecord {
	if t.add != nil {
		return TaskRecord{Op: OpAdd, Dest: t.add.Dest}
	}
	return TaskRecord{Op: OpDelete, Dest: t.del.Dest}
}

// send dispatches t over the already-open transaction tid, picking the
// v4/v6 transport method by the destination's address family — the Go
// stand-in for AddRoute4 vs AddRoute6 template/overload selection in the
// source, driven by prefix.Prefix's own family tag instead of a second
// IPv4Net/IPv6Net type.
func (t task) send(ctx context.Context, transport Transport, target string, tid uint32, reply func(error)) {
	v4 := t.dest().Family() == prefix.V4
	switch {
	case t.add != nil:
		if v4 {
			transport.AddRoute4(ctx, target, tid, *t.add, reply)
		} else {
			transport.AddRoute6(ctx, target, tid, *t.add, reply)
		}
	case t.del != nil:
		if v4 {
			transport.DeleteRoute4(ctx, target, tid, *t.del, reply)
		} else {
			transport.DeleteRoute6(ctx, target, tid, *t.del, reply)
		}
	}
}

func recordsOf(tasks []task) []TaskRecord {
	if len(tasks) == 0 {
		return nil
	}
	records := make([]TaskRecord, len(tasks))
	for i, t := range tasks {
		records[i] = t.record()
	}
	return records
}
