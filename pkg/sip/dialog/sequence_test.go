package dialog

import "testing"

func TestSequencer_NextLocalCSeq(t *testing.T) {
	s := newSequencer(0)
	if got := s.NextLocalCSeq(); got != 1 {
		t.Errorf("NextLocalCSeq() = %d, want 1", got)
	}
	if got := s.NextLocalCSeq(); got != 2 {
		t.Errorf("NextLocalCSeq() = %d, want 2", got)
	}
	if got := s.LocalCSeq(); got != 2 {
		t.Errorf("LocalCSeq() = %d, want 2", got)
	}
}

func TestSequencer_ValidateRemote_FirstRequestAlwaysAccepted(t *testing.T) {
	s := newSequencer(0)
	if !s.ValidateRemote(17, "INFO") {
		t.Error("first remote request should be accepted regardless of CSeq value")
	}
}

func TestSequencer_ValidateRemote_Retransmission(t *testing.T) {
	s := newSequencer(0)
	s.ValidateRemote(5, "INFO")
	if !s.ValidateRemote(5, "INFO") {
		t.Error("a retransmission with the same CSeq should be accepted")
	}
}

func TestSequencer_ValidateRemote_OutOfOrderRejected(t *testing.T) {
	s := newSequencer(0)
	s.ValidateRemote(5, "INFO")
	if s.ValidateRemote(4, "INFO") {
		t.Error("a stale/reordered CSeq should be rejected")
	}
}

func TestSequencer_ValidateRemote_Increases(t *testing.T) {
	s := newSequencer(0)
	s.ValidateRemote(5, "INFO")
	if !s.ValidateRemote(6, "INFO") {
		t.Error("a strictly increasing CSeq should be accepted")
	}
	if !s.ValidateRemote(6, "INFO") {
		t.Error("retransmitting the current high-water mark should still be accepted")
	}
}

func TestSequencer_ValidateRemote_ACKMatchesInviteCSeq(t *testing.T) {
	s := newSequencer(0)
	s.setInviteCSeq(3)
	if !s.ValidateRemote(3, "ACK") {
		t.Error("ACK reusing the INVITE's CSeq should be accepted")
	}
	if s.ValidateRemote(4, "ACK") {
		t.Error("ACK with a mismatched CSeq should be rejected")
	}
}
