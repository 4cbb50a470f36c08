package call

import "sync"

// Events is the typed callback surface a Call exposes, replacing the
// spec's ad-hoc string-keyed callback dictionary (§9) with one
// registration method per event variant. Multiple handlers may be
// registered per variant; each fires in registration order.
type Events interface {
	OnCallStateChanged(cb func(CallState))
	OnHangup(cb func(reason string))
	OnDTMF(cb func(digit rune))
	OnFrameReceived(cb func(frame []byte))
	OnAMDStateReceived(cb func(AMDState))
}

// eventBus holds the registered handlers for one Call and fires them in
// registration order. A plain mutex guards the slices since handlers
// can be registered from any goroutine (e.g. immediately after New,
// before Start spawns anything).
type eventBus struct {
	mu sync.Mutex

	stateChanged []func(CallState)
	hangup       []func(string)
	dtmf         []func(rune)
	frame        []func([]byte)
	amd          []func(AMDState)
}

func (b *eventBus) OnCallStateChanged(cb func(CallState)) {
	b.mu.Lock()
	b.stateChanged = append(b.stateChanged, cb)
	b.mu.Unlock()
}

func (b *eventBus) OnHangup(cb func(string)) {
	b.mu.Lock()
	b.hangup = append(b.hangup, cb)
	b.mu.Unlock()
}

func (b *eventBus) OnDTMF(cb func(rune)) {
	b.mu.Lock()
	b.dtmf = append(b.dtmf, cb)
	b.mu.Unlock()
}

func (b *eventBus) OnFrameReceived(cb func([]byte)) {
	b.mu.Lock()
	b.frame = append(b.frame, cb)
	b.mu.Unlock()
}

func (b *eventBus) OnAMDStateReceived(cb func(AMDState)) {
	b.mu.Lock()
	b.amd = append(b.amd, cb)
	b.mu.Unlock()
}

func (b *eventBus) fireStateChanged(s CallState) {
	b.mu.Lock()
	handlers := append([]func(CallState){}, b.stateChanged...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}

func (b *eventBus) fireHangup(reason string) {
	b.mu.Lock()
	handlers := append([]func(string){}, b.hangup...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(reason)
	}
}

func (b *eventBus) fireDTMF(digit rune) {
	b.mu.Lock()
	handlers := append([]func(rune){}, b.dtmf...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(digit)
	}
}

func (b *eventBus) fireFrame(frame []byte) {
	b.mu.Lock()
	handlers := append([]func([]byte){}, b.frame...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(frame)
	}
}

func (b *eventBus) fireAMD(s AMDState) {
	b.mu.Lock()
	handlers := append([]func(AMDState){}, b.amd...)
	b.mu.Unlock()
	for _, h := range handlers {
		h(s)
	}
}
