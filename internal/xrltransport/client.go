// Package xrltransport provides a concrete RibTransport/Transport
// implementation dialing a routing daemon over net/rpc. SPEC_FULL.md §6
// scopes the wire protocol deliberately out — RibClient and
// NextHopResolver only depend on the RibTransport/NextHopRibTransport
// interfaces, so any concrete transport is a deployment integration
// detail, not part of the core's tested contract. This one exists so
// cmd/routecored has something concrete to dial; see DESIGN.md for why
// net/rpc (stdlib) was chosen over a pack dependency for this piece.
package xrltransport

import (
	"context"
	"fmt"
	"net/rpc"
	"sync"

	"github.com/route-beacon/xorp-routecore/internal/nexthop"
	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"github.com/route-beacon/xorp-routecore/internal/ribclient"
	"github.com/route-beacon/xorp-routecore/internal/rpcerr"
)

// Client dials a single routing-daemon endpoint and implements both
// ribclient.Transport and nexthop.RibTransport against it.
type Client struct {
	mu      sync.Mutex
	addr    string
	rpc     *rpc.Client
	dialErr error
}

func Dial(addr string) *Client {
	c := &Client{addr: addr}
	c.connect()
	return c
}

func (c *Client) connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		return
	}
	cl, err := rpc.DialHTTP("tcp", c.addr)
	if err != nil {
		c.dialErr = err
		return
	}
	c.rpc = cl
	c.dialErr = nil
}

func (c *Client) client() (*rpc.Client, error) {
	c.mu.Lock()
	cl, err := c.rpc, c.dialErr
	c.mu.Unlock()
	if cl == nil {
		c.connect()
		c.mu.Lock()
		cl, err = c.rpc, c.dialErr
		c.mu.Unlock()
	}
	return cl, err
}

// Ping implements internal/http's TransportChecker/DBChecker-style
// interface for /readyz.
func (c *Client) Ping(ctx context.Context) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	var reply PingReply
	call := cl.Go("RouteCore.Ping", &PingArgs{}, &reply, nil)
	select {
	case <-call.Done:
		return call.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) asyncCall(method string, args, reply any, done func(error)) {
	cl, err := c.client()
	if err != nil {
		done(rpcerr.New(rpcerr.NoFinder, c.addr, err))
		return
	}
	call := cl.Go(method, args, reply, nil)
	go func() {
		<-call.Done
		if call.Error != nil {
			done(rpcerr.New(rpcerr.SendFailed, c.addr, call.Error))
			return
		}
		done(nil)
	}()
}

// --- ribclient.Transport ---

type StartTransactionArgs struct{ Target string }
type StartTransactionReply struct{ TID uint32 }

func (c *Client) StartTransaction(_ context.Context, target string, reply func(tid uint32, err error)) {
	var rep StartTransactionReply
	c.asyncCall("RouteCore.StartTransaction", &StartTransactionArgs{Target: target}, &rep, func(err error) {
		reply(rep.TID, err)
	})
}

type CommitTransactionArgs struct {
	Target string
	TID    uint32
}
type CommitTransactionReply struct{}

func (c *Client) CommitTransaction(_ context.Context, target string, tid uint32, reply func(err error)) {
	var rep CommitTransactionReply
	c.asyncCall("RouteCore.CommitTransaction", &CommitTransactionArgs{Target: target, TID: tid}, &rep, reply)
}

type RouteArgs struct {
	Target string
	TID    uint32
	Dest   string
	Add    *ribclient.RouteAdd
}
type RouteReply struct{}

func (c *Client) AddRoute4(_ context.Context, target string, tid uint32, add ribclient.RouteAdd, reply func(err error)) {
	c.sendRoute("RouteCore.AddRoute4", target, tid, add.Dest.String(), &add, reply)
}

func (c *Client) DeleteRoute4(_ context.Context, target string, tid uint32, del ribclient.RouteDelete, reply func(err error)) {
	c.sendRoute("RouteCore.DeleteRoute4", target, tid, del.Dest.String(), nil, reply)
}

func (c *Client) AddRoute6(_ context.Context, target string, tid uint32, add ribclient.RouteAdd, reply func(err error)) {
	c.sendRoute("RouteCore.AddRoute6", target, tid, add.Dest.String(), &add, reply)
}

func (c *Client) DeleteRoute6(_ context.Context, target string, tid uint32, del ribclient.RouteDelete, reply func(err error)) {
	c.sendRoute("RouteCore.DeleteRoute6", target, tid, del.Dest.String(), nil, reply)
}

func (c *Client) sendRoute(method, target string, tid uint32, dest string, add *ribclient.RouteAdd, reply func(error)) {
	var rep RouteReply
	c.asyncCall(method, &RouteArgs{Target: target, TID: tid, Dest: dest, Add: add}, &rep, reply)
}

// --- nexthop.RibTransport ---

type RegisterArgs struct{ Nexthop string }
type RegisterReply struct {
	Resolves      bool
	BaseAddr      string
	PrefixLen     int
	RealPrefixLen int
	Metric        uint32
}

func (c *Client) RegisterInterest(_ context.Context, nh prefix.Addr, reply func(nexthop.RegisterReply, error)) {
	var rep RegisterReply
	c.asyncCall("RouteCore.RegisterNexthop", &RegisterArgs{Nexthop: nh.String()}, &rep, func(err error) {
		if err != nil {
			reply(nexthop.RegisterReply{}, err)
			return
		}
		base, perr := prefix.ParseAddr(rep.BaseAddr)
		if perr != nil {
			reply(nexthop.RegisterReply{}, fmt.Errorf("xrltransport: invalid base addr %q: %w", rep.BaseAddr, perr))
			return
		}
		reply(nexthop.RegisterReply{
			Resolves:      rep.Resolves,
			BaseAddr:      base,
			PrefixLen:     rep.PrefixLen,
			RealPrefixLen: rep.RealPrefixLen,
			Metric:        rep.Metric,
		}, nil)
	})
}

type DeregisterArgs struct {
	Nexthop   string
	PrefixLen int
}
type DeregisterReply struct{}

func (c *Client) DeregisterInterest(_ context.Context, nh prefix.Addr, prefixLen int, reply func(error)) {
	var rep DeregisterReply
	c.asyncCall("RouteCore.DeregisterNexthop", &DeregisterArgs{Nexthop: nh.String(), PrefixLen: prefixLen}, &rep, reply)
}

type PingArgs struct{}
type PingReply struct{}

// Close releases the underlying connection, if established.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc == nil {
		return nil
	}
	return c.rpc.Close()
}
