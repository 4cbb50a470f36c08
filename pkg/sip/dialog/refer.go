package dialog

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outcall/sipvox/pkg/sip/message"
	"github.com/outcall/sipvox/pkg/sip/transaction"
)

const referNotifyTimeout = 30 * time.Second

// Refer starts an RFC 3515 transfer by sending a REFER with a Refer-To
// pointing at target. The dialog must be confirmed.
func (d *dialogImpl) Refer(ctx context.Context, target *message.URI, opts ReferOpts) error {
	if d.State() != StateConfirmed {
		return ErrInvalidState
	}
	if d.referTx != nil {
		return ErrReferPending
	}

	headers := map[string]string{
		"Refer-To": (message.Address{URI: target}).String(),
		"Event":    "refer",
	}
	if opts.NoReferSub {
		headers["Refer-Sub"] = "false"
	} else if opts.ReferSub != nil {
		headers["Refer-Sub"] = *opts.ReferSub
	}
	for k, v := range opts.Headers {
		headers[k] = v
	}

	tx, err := d.sendRequest("REFER", nil, "", headers)
	if err != nil {
		return err
	}
	d.referTx = tx
	return nil
}

// ReferReplace starts an RFC 3891 attended transfer: the transferee is
// told to INVITE replaces, tearing it down and replacing it in place.
func (d *dialogImpl) ReferReplace(ctx context.Context, replaces Dialog, opts ReferOpts) error {
	rk := replaces.Key()
	replacesHeader := fmt.Sprintf("%s;to-tag=%s;from-tag=%s", rk.CallID, rk.RemoteTag, rk.LocalTag)

	if opts.Headers == nil {
		opts.Headers = map[string]string{}
	}
	opts.Headers["Replaces"] = replacesHeader

	return d.Refer(ctx, d.remoteURI, opts)
}

// WaitRefer blocks until the REFER transaction's final response arrives
// and, if accepted, the subsequent NOTIFY progress reports settle or
// time out.
func (d *dialogImpl) WaitRefer(ctx context.Context) (*ReferSubscription, error) {
	if d.referTx == nil {
		return nil, fmt.Errorf("dialog: no REFER in progress")
	}

	done := make(chan *message.Response, 1)
	d.referTx.OnResponse(func(_ transaction.Transaction, resp message.Message) {
		if r, ok := resp.(*message.Response); ok && r.IsFinal() {
			select {
			case done <- r:
			default:
			}
		}
	})

	select {
	case resp := <-done:
		if !resp.IsSuccess() {
			return nil, ErrReferRejected
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(referNotifyTimeout):
		return nil, ErrReferTimeout
	}

	sub := &ReferSubscription{ID: d.CallID() + ":refer", Event: "refer", State: "pending", Done: make(chan struct{})}
	d.referSubs.Store(sub.ID, sub)

	select {
	case <-sub.Done:
		return sub, sub.Error
	case <-ctx.Done():
		return sub, ctx.Err()
	case <-time.After(referNotifyTimeout):
		return sub, ErrReferTimeout
	}
}

// ProcessNotify applies a NOTIFY carrying REFER progress (RFC 3515
// section 2.4.4): a message/sipfrag body reporting the transferee's
// INVITE status.
func (d *dialogImpl) ProcessNotify(notify *message.Request) error {
	if !strings.EqualFold(notify.GetHeader("Event"), "refer") {
		return fmt.Errorf("dialog: NOTIFY without Event: refer")
	}

	var sub *ReferSubscription
	d.referSubs.Range(func(_, v interface{}) bool {
		sub = v.(*ReferSubscription)
		return false
	})
	if sub == nil {
		return fmt.Errorf("dialog: NOTIFY with no active REFER subscription")
	}

	sub.State = parseSubscriptionState(notify.GetHeader("Subscription-State"))
	if status, ok := parseSipFragStatus(notify.Body()); ok {
		sub.Progress = status
	}

	if sub.State == "terminated" || sub.Progress >= 200 {
		if sub.Progress != 0 && sub.Progress < 300 {
			sub.Error = nil
		} else if sub.Progress >= 300 {
			sub.Error = ErrReferRejected
		}
		close(sub.Done)
		d.referSubs.Delete(sub.ID)
		d.referTx = nil
	}
	return nil
}

func parseSubscriptionState(value string) string {
	state := strings.TrimSpace(value)
	if sc := strings.Index(state, ";"); sc != -1 {
		state = state[:sc]
	}
	return strings.ToLower(state)
}

// parseSipFragStatus extracts the status code from a message/sipfrag
// body's status line ("SIP/2.0 200 OK").
func parseSipFragStatus(body []byte) (int, bool) {
	line := strings.SplitN(string(body), "\r\n", 2)[0]
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, false
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, false
	}
	return code, true
}
