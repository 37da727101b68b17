package agentrt

import "sync"

// InboxItemKind tags the variant of an InboxItem.
type InboxItemKind string

const (
	ItemMessage           InboxItemKind = "message"
	ItemPermissionDecision InboxItemKind = "permission-decision"
	ItemReset             InboxItemKind = "reset"
	ItemRestore           InboxItemKind = "restore"
)

// RoutingContext carries the connector-side addressing for an inbound or
// outbound item: which connector it came from/goes to, which channel, and
// optionally the originating message id for reply-threading.
type RoutingContext struct {
	Source    string `json:"source"`
	ChannelId string `json:"channelId,omitempty"`
	UserId    string `json:"userId,omitempty"`
	MessageId string `json:"messageId,omitempty"`
	TaskId    string `json:"taskId,omitempty"`
}

// WithoutMessageId returns a copy of the context with transient fields
// stripped, matching the "ephemeral command markers" clause of AgentState's
// routing invariant and the background-agent inheritance rule.
func (r RoutingContext) WithoutMessageId() RoutingContext {
	r.MessageId = ""
	return r
}

// InboxItem is one unit of work posted to an Agent's Inbox.
type InboxItem struct {
	Kind InboxItemKind

	// message
	Text  string
	Files []FileRef

	// permission-decision
	Decisions []PermissionDecision

	Source  string
	Context RoutingContext

	completion *Completion
}

// NewMessageItem builds a message InboxItem.
func NewMessageItem(source, text string, ctx RoutingContext) InboxItem {
	return InboxItem{Kind: ItemMessage, Source: source, Text: text, Context: ctx}
}

// NewPermissionDecisionItem builds a permission-decision InboxItem.
func NewPermissionDecisionItem(source string, decisions []PermissionDecision, ctx RoutingContext) InboxItem {
	return InboxItem{Kind: ItemPermissionDecision, Source: source, Decisions: decisions, Context: ctx}
}

// NewResetItem builds a reset InboxItem.
func NewResetItem(source string) InboxItem {
	return InboxItem{Kind: ItemReset, Source: source}
}

// NewRestoreItem builds the synthetic restore InboxItem posted at load time.
func NewRestoreItem() InboxItem {
	return InboxItem{Kind: ItemRestore}
}

// Completion returns the completion handle attached to this item, if any.
func (i InboxItem) Completion() *Completion { return i.completion }

// Inbox is the single-consumer FIFO of InboxItems bound to exactly one agent.
// post is safe for any number of concurrent producers; next/drain are meant
// to be called by exactly one consumer goroutine.
type Inbox struct {
	mu     sync.Mutex
	items  []InboxItem
	wakeup chan struct{}
	closed bool
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{wakeup: make(chan struct{}, 1)}
}

// Post appends item to the queue, optionally attaching completion. It is
// O(1) and preserves arrival order across all producers.
func (b *Inbox) Post(item InboxItem, completion *Completion) {
	item.completion = completion
	b.mu.Lock()
	b.items = append(b.items, item)
	b.mu.Unlock()
	select {
	case b.wakeup <- struct{}{}:
	default:
	}
}

// Next blocks until an item is available or stop is closed, returning
// (item, true), or (zero, false) if stop fired first.
func (b *Inbox) Next(stop <-chan struct{}) (InboxItem, bool) {
	for {
		b.mu.Lock()
		if len(b.items) > 0 {
			item := b.items[0]
			b.items = b.items[1:]
			b.mu.Unlock()
			return item, true
		}
		b.mu.Unlock()

		select {
		case <-b.wakeup:
			continue
		case <-stop:
			return InboxItem{}, false
		}
	}
}

// Close fails every pending item's completion with cause. It does not stop
// Next from returning items: pending items stay queued, and posting after
// Close still appends (so a restart can flush pending items into a fresh
// consumer), but outstanding completions are released immediately so
// callers awaiting them do not hang.
func (b *Inbox) Close(cause error) {
	b.mu.Lock()
	pending := b.items
	b.closed = true
	b.mu.Unlock()

	for _, item := range pending {
		if item.completion != nil {
			item.completion.Cancel(cause)
		}
	}
}

// Len reports the number of items currently queued, for diagnostics/tests.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
