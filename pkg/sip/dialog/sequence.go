package dialog

import (
	"sync"

	"github.com/outcall/sipvox/pkg/sip/message"
)

// sequencer tracks the local and remote CSeq counters of a dialog
// (RFC 3261 section 12.2.1.1/12.2.2) and validates in-dialog requests
// arriving out of order.
type sequencer struct {
	mu sync.Mutex

	localCSeq  uint32
	remoteCSeq uint32
	haveRemote bool

	// inviteCSeq/inviteMethod remember the request that opened the
	// dialog so the matching ACK (which reuses the INVITE's CSeq
	// number but carries method ACK) validates correctly.
	inviteCSeq   uint32
	inviteMethod string
}

func newSequencer(initialLocal uint32) *sequencer {
	return &sequencer{localCSeq: initialLocal}
}

// NextLocalCSeq increments and returns the next outgoing CSeq number.
func (s *sequencer) NextLocalCSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localCSeq++
	return s.localCSeq
}

func (s *sequencer) LocalCSeq() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localCSeq
}

func (s *sequencer) setInviteCSeq(cseq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inviteCSeq = cseq
	s.inviteMethod = "INVITE"
}

// ValidateRemote checks whether an incoming in-dialog request's CSeq is
// acceptable and, if so, records it as the new high-water mark. ACK
// reuses the CSeq number of the INVITE it acknowledges, so it is
// accepted without bumping remoteCSeq.
func (s *sequencer) ValidateRemote(cseq uint32, method string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method == "ACK" {
		return cseq == s.inviteCSeq
	}

	if !s.haveRemote {
		s.remoteCSeq = cseq
		s.haveRemote = true
		return true
	}

	if cseq <= s.remoteCSeq {
		// A retransmission of the same request is not an error; a
		// genuinely stale or reordered CSeq is.
		return cseq == s.remoteCSeq
	}

	s.remoteCSeq = cseq
	return true
}

func cseqNumber(m message.Message) (uint32, error) {
	c, err := message.ParseCSeq(m.GetHeader("CSeq"))
	if err != nil {
		return 0, err
	}
	return c.Seq, nil
}
