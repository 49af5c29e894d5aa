package reflector

import (
	"errors"
	"log"
	"net"
	"testing"

	"mdns-reflector/internal/filter"
	"mdns-reflector/internal/ifsock"
	"mdns-reflector/internal/registry"
)

type sendCall struct {
	dest    string
	payload []byte
}

func newTestReflector(t *testing.T, endpoints []*ifsock.Endpoint, pol *filter.Policy, errorInsteadOfExit bool) (*Reflector, *[]sendCall) {
	t.Helper()
	reg := registry.Build(endpoints)
	r := New(reg, pol, errorInsteadOfExit, log.New(discard{}, "", 0))
	calls := &[]sendCall{}
	r.sender = func(dest *ifsock.Endpoint, payload []byte) error {
		*calls = append(*calls, sendCall{dest: dest.Name, payload: payload})
		return nil
	}
	return r, calls
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

// Scenario 1 from spec.md §8: a 120-byte packet from an in-network host
// on eth0 is forwarded exactly once, to eth1, and not back to eth0.
func TestHandlePacketForwardsToOtherInterfaceOnly(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	eth1 := ifsock.NewTestEndpoint("eth1", ifsock.V4, mustCIDR(t, "10.0.1.0/24"), net.ParseIP("10.0.1.1"), 20, 21)

	r, calls := newTestReflector(t, []*ifsock.Endpoint{eth0, eth1}, filter.New(nil, nil), false)

	payload := make([]byte, 120)
	if err := r.handlePacket(eth0, net.ParseIP("10.0.0.5"), payload); err != nil {
		t.Fatalf("handlePacket: %v", err)
	}

	if len(*calls) != 1 {
		t.Fatalf("got %d sends; want 1", len(*calls))
	}
	if (*calls)[0].dest != "eth1" || len((*calls)[0].payload) != 120 {
		t.Fatalf("send = %+v; want eth1/120 bytes", (*calls)[0])
	}
}

// Scenario 2: a packet whose source equals the receiving endpoint's own
// address is never forwarded.
func TestHandlePacketDropsSelfEcho(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	eth1 := ifsock.NewTestEndpoint("eth1", ifsock.V4, mustCIDR(t, "10.0.1.0/24"), net.ParseIP("10.0.1.1"), 20, 21)

	r, calls := newTestReflector(t, []*ifsock.Endpoint{eth0, eth1}, filter.New(nil, nil), false)

	if err := r.handlePacket(eth0, net.ParseIP("10.0.0.1"), []byte("x")); err != nil {
		t.Fatalf("handlePacket: %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("got %d sends; want 0", len(*calls))
	}
}

// Scenario 5: three interfaces, a packet on eth0 produces exactly two
// forwarded datagrams, one each on eth1 and eth2, in registry order.
func TestHandlePacketThreeInterfacesOrder(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	eth1 := ifsock.NewTestEndpoint("eth1", ifsock.V4, mustCIDR(t, "10.0.1.0/24"), net.ParseIP("10.0.1.1"), 20, 21)
	eth2 := ifsock.NewTestEndpoint("eth2", ifsock.V4, mustCIDR(t, "10.0.2.0/24"), net.ParseIP("10.0.2.1"), 30, 31)

	r, calls := newTestReflector(t, []*ifsock.Endpoint{eth0, eth1, eth2}, filter.New(nil, nil), false)

	if err := r.handlePacket(eth0, net.ParseIP("10.0.0.5"), []byte("x")); err != nil {
		t.Fatalf("handlePacket: %v", err)
	}
	if len(*calls) != 2 || (*calls)[0].dest != "eth1" || (*calls)[1].dest != "eth2" {
		t.Fatalf("got %+v; want sends to eth1 then eth2", *calls)
	}
}

func TestHandlePacketSendErrorTerminatesByDefault(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	eth1 := ifsock.NewTestEndpoint("eth1", ifsock.V4, mustCIDR(t, "10.0.1.0/24"), net.ParseIP("10.0.1.1"), 20, 21)

	r, _ := newTestReflector(t, []*ifsock.Endpoint{eth0, eth1}, filter.New(nil, nil), false)
	r.sender = func(dest *ifsock.Endpoint, payload []byte) error {
		return errors.New("boom")
	}

	if err := r.handlePacket(eth0, net.ParseIP("10.0.0.5"), []byte("x")); err == nil {
		t.Fatal("expected send error to propagate when ErrorInsteadOfExit is false")
	}
}

func TestHandlePacketSendErrorContinuesWhenErrorInsteadOfExit(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	eth1 := ifsock.NewTestEndpoint("eth1", ifsock.V4, mustCIDR(t, "10.0.1.0/24"), net.ParseIP("10.0.1.1"), 20, 21)
	eth2 := ifsock.NewTestEndpoint("eth2", ifsock.V4, mustCIDR(t, "10.0.2.0/24"), net.ParseIP("10.0.2.1"), 30, 31)

	r, _ := newTestReflector(t, []*ifsock.Endpoint{eth0, eth1, eth2}, filter.New(nil, nil), true)
	var sent []string
	r.sender = func(dest *ifsock.Endpoint, payload []byte) error {
		sent = append(sent, dest.Name)
		if dest.Name == "eth1" {
			return errors.New("boom")
		}
		return nil
	}

	if err := r.handlePacket(eth0, net.ParseIP("10.0.0.5"), []byte("x")); err != nil {
		t.Fatalf("handlePacket: %v", err)
	}
	if len(sent) != 2 || sent[0] != "eth1" || sent[1] != "eth2" {
		t.Fatalf("sent = %v; want attempts at both eth1 and eth2 despite eth1 failing", sent)
	}
}

func TestHandleReadyUnknownDescriptorIsSkipped(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	r, calls := newTestReflector(t, []*ifsock.Endpoint{eth0}, filter.New(nil, nil), false)

	if err := r.handleReady(999, make([]byte, ReadBufferSize)); err != nil {
		t.Fatalf("handleReady: %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("got %d sends for an unknown descriptor; want 0", len(*calls))
	}
}

func TestHandleReadyRecvErrorIsTolerated(t *testing.T) {
	eth0 := ifsock.NewTestEndpoint("eth0", ifsock.V4, mustCIDR(t, "10.0.0.0/24"), net.ParseIP("10.0.0.1"), 10, 11)
	eth1 := ifsock.NewTestEndpoint("eth1", ifsock.V4, mustCIDR(t, "10.0.1.0/24"), net.ParseIP("10.0.1.1"), 20, 21)
	r, calls := newTestReflector(t, []*ifsock.Endpoint{eth0, eth1}, filter.New(nil, nil), false)
	r.receiver = func(src *ifsock.Endpoint, buf []byte) (int, net.IP, error) {
		return 0, nil, errWouldBlock{}
	}

	if err := r.handleReady(eth0.RXFd(), make([]byte, ReadBufferSize)); err != nil {
		t.Fatalf("handleReady: %v", err)
	}
	if len(*calls) != 0 {
		t.Fatalf("got %d sends on would-block; want 0", len(*calls))
	}
}

type errWouldBlock struct{}

func (errWouldBlock) Error() string { return "would block" }
