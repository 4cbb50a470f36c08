package dialog

import (
	"testing"

	"github.com/outcall/sipvox/pkg/sip/message"
)

func TestTarget_RefreshFromContact(t *testing.T) {
	tg := newTarget(message.NewURI("bob", "ua2.example.com"), true)

	msg := message.NewResponse(200, "OK")
	msg.SetHeader("Contact", "<sip:bob@10.0.0.2:5070>")
	if err := tg.RefreshFromContact(msg); err != nil {
		t.Fatalf("RefreshFromContact() error: %v", err)
	}
	if got := tg.URI().Host; got != "10.0.0.2" {
		t.Errorf("URI().Host = %s, want 10.0.0.2", got)
	}
	if tg.URI().Port != 5070 {
		t.Errorf("URI().Port = %d, want 5070", tg.URI().Port)
	}
}

func TestTarget_RefreshFromContact_NoHeaderIsNoop(t *testing.T) {
	initial := message.NewURI("bob", "ua2.example.com")
	tg := newTarget(initial, true)

	msg := message.NewResponse(100, "Trying")
	if err := tg.RefreshFromContact(msg); err != nil {
		t.Fatalf("RefreshFromContact() error: %v", err)
	}
	if tg.URI() != initial {
		t.Errorf("URI() changed despite no Contact header")
	}
}

func TestTarget_LearnRouteSet_UACKeepsOrder(t *testing.T) {
	tg := newTarget(message.NewURI("bob", "ua2.example.com"), true)

	msg := message.NewResponse(200, "OK")
	msg.SetHeader("Record-Route", "<sip:p1.example.com;lr>, <sip:p2.example.com;lr>")
	if err := tg.LearnRouteSet(msg); err != nil {
		t.Fatalf("LearnRouteSet() error: %v", err)
	}
	routes := tg.RouteSet()
	if len(routes) != 2 {
		t.Fatalf("len(RouteSet()) = %d, want 2", len(routes))
	}
	if routes[0].URI.Host != "p1.example.com" || routes[1].URI.Host != "p2.example.com" {
		t.Errorf("UAC route set order = %v, want [p1 p2]", routes)
	}

	// a second Record-Route set must not change anything once learned
	msg2 := message.NewResponse(200, "OK")
	msg2.SetHeader("Record-Route", "<sip:p3.example.com;lr>")
	if err := tg.LearnRouteSet(msg2); err != nil {
		t.Fatalf("LearnRouteSet() second call error: %v", err)
	}
	if len(tg.RouteSet()) != 2 {
		t.Errorf("route set changed on second LearnRouteSet() call")
	}
}

func TestTarget_LearnRouteSet_UASReverses(t *testing.T) {
	tg := newTarget(message.NewURI("alice", "ua1.example.com"), false)

	req := message.NewRequest("INVITE", message.NewURI("bob", "ua2.example.com"))
	req.SetHeader("Record-Route", "<sip:p1.example.com;lr>, <sip:p2.example.com;lr>")
	if err := tg.LearnRouteSet(req); err != nil {
		t.Fatalf("LearnRouteSet() error: %v", err)
	}
	routes := tg.RouteSet()
	if len(routes) != 2 || routes[0].URI.Host != "p2.example.com" || routes[1].URI.Host != "p1.example.com" {
		t.Errorf("UAS route set order = %v, want [p2 p1]", routes)
	}
}

func TestTarget_RouteHeaders_LooseRouting(t *testing.T) {
	tg := newTarget(message.NewURI("bob", "ua2.example.com"), true)
	msg := message.NewResponse(200, "OK")
	msg.SetHeader("Record-Route", "<sip:p1.example.com;lr>, <sip:p2.example.com;lr>")
	if err := tg.LearnRouteSet(msg); err != nil {
		t.Fatalf("LearnRouteSet() error: %v", err)
	}

	requestURI, routes := tg.RouteHeaders()
	if requestURI.Host != "ua2.example.com" {
		t.Errorf("requestURI = %s, want the target URI unchanged under loose routing", requestURI.Host)
	}
	if len(routes) != 2 || routes[0].URI.Host != "p1.example.com" {
		t.Errorf("RouteHeaders() = %v, want the full route set untouched", routes)
	}
}

func TestTarget_RouteHeaders_StrictRouting(t *testing.T) {
	tg := newTarget(message.NewURI("bob", "ua2.example.com"), true)
	msg := message.NewResponse(200, "OK")
	msg.SetHeader("Record-Route", "<sip:p1.example.com>, <sip:p2.example.com;lr>")
	if err := tg.LearnRouteSet(msg); err != nil {
		t.Fatalf("LearnRouteSet() error: %v", err)
	}

	requestURI, routes := tg.RouteHeaders()
	if requestURI.Host != "p1.example.com" {
		t.Errorf("requestURI = %s, want the first (strict) route", requestURI.Host)
	}
	if len(routes) != 2 {
		t.Fatalf("len(routes) = %d, want 2", len(routes))
	}
	if routes[0].URI.Host != "p2.example.com" {
		t.Errorf("routes[0] = %s, want p2.example.com", routes[0].URI.Host)
	}
	if routes[1].URI.Host != "ua2.example.com" {
		t.Errorf("routes[1] = %s, want the target URI appended last", routes[1].URI.Host)
	}
}

func TestTarget_RouteHeaders_NoRouteSet(t *testing.T) {
	tg := newTarget(message.NewURI("bob", "ua2.example.com"), true)
	requestURI, routes := tg.RouteHeaders()
	if requestURI.Host != "ua2.example.com" {
		t.Errorf("requestURI = %s, want the target URI", requestURI.Host)
	}
	if routes != nil {
		t.Errorf("routes = %v, want nil with no route set", routes)
	}
}
