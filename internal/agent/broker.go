package agent

import (
	"strings"
	"sync"

	"github.com/wovenbot/loom/internal/bus"
	"github.com/wovenbot/loom/pkg/models"
)

// ApprovalBroker is the rendezvous between suspended tool calls and human
// decisions arriving over any channel.
//
// Each pending request holds a one-shot reply channel: the gate awaits the
// receiver, the broker keeps the sender in the pending map. Removing the
// entry and emitting the resolution happen under the mutex, which gives
// at-most-once resolution.
type ApprovalBroker struct {
	mu      sync.Mutex
	pending map[string]*pendingApproval
	bus     *bus.Bus
}

type pendingApproval struct {
	request models.ApprovalRequest
	reply   chan models.ApprovalDecision
}

// NewApprovalBroker creates a broker publishing on the given bus.
func NewApprovalBroker(b *bus.Bus) *ApprovalBroker {
	return &ApprovalBroker{
		pending: make(map[string]*pendingApproval),
		bus:     b,
	}
}

// Request registers a pending approval, announces it on the bus, and returns
// the channel the caller awaits for the decision.
func (a *ApprovalBroker) Request(req models.ApprovalRequest) <-chan models.ApprovalDecision {
	entry := &pendingApproval{
		request: req,
		reply:   make(chan models.ApprovalDecision, 1),
	}

	a.mu.Lock()
	a.pending[req.ID] = entry
	a.mu.Unlock()

	ev := models.NewAgentEvent(models.EventApprovalRequested, req.SessionID)
	ev.Approval = &req
	a.bus.Publish(ev)

	return entry.reply
}

// Respond resolves a pending approval. It reports whether the id matched a
// pending entry; a second response for the same id is a no-op returning
// false. The reply channel is buffered, so delivery succeeds even if the
// waiter already gave up.
func (a *ApprovalBroker) Respond(id string, decision models.ApprovalDecision) bool {
	a.mu.Lock()
	entry, ok := a.pending[id]
	if ok {
		delete(a.pending, id)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}

	entry.reply <- decision

	ev := models.NewAgentEvent(models.EventApprovalResolved, entry.request.SessionID)
	ev.ApprovalID = id
	ev.Approved = decision.Verdict == models.VerdictApproved
	a.bus.Publish(ev)
	return true
}

// Cancel evicts a pending approval without emitting a resolution. The gate
// calls this when its wait times out, so a later Respond for the same id
// returns false.
func (a *ApprovalBroker) Cancel(id string) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// Pending returns a snapshot of all unresolved requests.
func (a *ApprovalBroker) Pending() []models.ApprovalRequest {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]models.ApprovalRequest, 0, len(a.pending))
	for _, entry := range a.pending {
		out = append(out, entry.request)
	}
	return out
}

// FindByPrefix returns the id of the single pending request whose id starts
// with prefix. An ambiguous or unknown prefix returns "".
func (a *ApprovalBroker) FindByPrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var match string
	for id := range a.pending {
		if strings.HasPrefix(id, prefix) {
			if match != "" {
				return ""
			}
			match = id
		}
	}
	return match
}
