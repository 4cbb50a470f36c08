package dialog

import (
	"strings"
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// target tracks a dialog's remote target URI (refreshed from Contact per
// RFC 3261 section 12.2.1.2/12.2.2) and its route set (learned once from
// Record-Route per section 12.1.2 and never modified afterward).
type target struct {
	mu        sync.RWMutex
	uri       *message.URI
	routeSet  []message.Address
	isUAC     bool
	routeSeen bool
}

func newTarget(initial *message.URI, isUAC bool) *target {
	return &target{uri: initial, isUAC: isUAC}
}

func (t *target) URI() *message.URI {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.uri
}

func (t *target) RouteSet() []message.Address {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]message.Address, len(t.routeSet))
	copy(out, t.routeSet)
	return out
}

// RefreshFromContact updates the remote target from a message's Contact
// header, as happens on any request or response that is allowed to
// refresh the target (re-INVITE/UPDATE and their 2xx, any 1xx except
// 100, and 3xx redirects).
func (t *target) RefreshFromContact(m message.Message) error {
	contact := m.GetHeader("Contact")
	if contact == "" {
		return nil
	}
	addr, err := message.ParseAddress(firstCommaItem(contact))
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.uri = addr.URI
	t.mu.Unlock()
	return nil
}

// LearnRouteSet builds the route set from a message's Record-Route
// headers the first time it is called; later calls are no-ops, since
// RFC 3261 section 12.1.2 fixes the route set for the dialog's lifetime.
// A UAC keeps the headers in the order received; a UAS reverses them so
// both sides route Route headers towards the same ordered proxy chain.
func (t *target) LearnRouteSet(m message.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.routeSeen {
		return nil
	}
	t.routeSeen = true

	var routes []message.Address
	for _, line := range m.GetHeaders("Record-Route") {
		for _, item := range splitCommaList(line) {
			addr, err := message.ParseAddress(item)
			if err != nil {
				return err
			}
			routes = append(routes, addr)
		}
	}
	if !t.isUAC {
		for i, j := 0, len(routes)-1; i < j; i, j = i+1, j-1 {
			routes[i], routes[j] = routes[j], routes[i]
		}
	}
	t.routeSet = routes
	return nil
}

// RouteHeaders renders the current route set as Route header addresses,
// honoring RFC 3261 section 12.2.1.1: when the first route has no "lr"
// parameter the dialog must use strict routing, which means the first
// route becomes the Request-URI instead of a Route header (and the
// target URI is appended to the end of the route list instead).
func (t *target) RouteHeaders() (requestURI *message.URI, routeHeaders []message.Address) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if len(t.routeSet) == 0 {
		return t.uri, nil
	}

	first := t.routeSet[0]
	if _, looseRouting := first.URI.Parameters["lr"]; looseRouting {
		return t.uri, append([]message.Address(nil), t.routeSet...)
	}

	routeHeaders = append(routeHeaders, t.routeSet[1:]...)
	routeHeaders = append(routeHeaders, message.Address{URI: t.uri})
	return first.URI, routeHeaders
}

// firstCommaItem returns the first comma-separated address in a header
// value, ignoring commas nested inside a <...> URI.
func firstCommaItem(value string) string {
	items := splitCommaList(value)
	if len(items) == 0 {
		return value
	}
	return items[0]
}

func splitCommaList(value string) []string {
	var items []string
	var cur strings.Builder
	depth := 0
	for _, r := range value {
		switch r {
		case '<':
			depth++
			cur.WriteRune(r)
		case '>':
			depth--
			cur.WriteRune(r)
		case ',':
			if depth == 0 {
				items = append(items, strings.TrimSpace(cur.String()))
				cur.Reset()
				continue
			}
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		items = append(items, s)
	}
	return items
}
