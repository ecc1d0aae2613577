package eventbus

import (
	"encoding/json"
	"testing"

	"github.com/route-beacon/xorp-routecore/internal/prefix"
	"go.uber.org/zap"
)

func TestNextHopMetricChangedEventEncoding(t *testing.T) {
	nh, err := prefix.ParseAddr("10.0.0.1")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	ev := NextHopMetricChangedEvent{Nexthop: nh.String()}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded NextHopMetricChangedEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Nexthop != "10.0.0.1" {
		t.Errorf("nexthop = %q, want %q", decoded.Nexthop, "10.0.0.1")
	}
}

func TestRouteWinnerChangedEventEncoding(t *testing.T) {
	net, err := prefix.ParsePrefix("10.0.0.0/24")
	if err != nil {
		t.Fatalf("ParsePrefix: %v", err)
	}
	ev := RouteWinnerChangedEvent{Prefix: net.String(), Winner: "peer-1"}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded RouteWinnerChangedEvent
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Prefix != net.String() || decoded.Winner != "peer-1" {
		t.Errorf("decoded event = %+v", decoded)
	}
}

func TestNewPublisherConstructsClient(t *testing.T) {
	p, err := NewPublisher([]string{"127.0.0.1:65535"}, "routecore.events", "routecored-test", nil, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer p.Close()
}
