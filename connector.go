package agentrt

import "context"

// OutgoingMessage is what the Agent hands a Connector to deliver.
type OutgoingMessage struct {
	Text            string
	Files           []FileRef
	ReplyToMessageId string
}

// StopTyping ends a previously started typing/status indicator.
type StopTyping func()

// PermissionRequest describes what an agent is asking a user to grant.
type PermissionRequest struct {
	Web    *bool
	Access *PathAccess
	Reason string
}

// Connector is the contract an external transport adapter implements. The
// engine only consumes this interface; concrete chat/webhook implementations
// are external collaborators, not part of this package.
type Connector interface {
	// OnMessage registers a handler for inbound messages and returns an
	// unsubscribe function.
	OnMessage(handler func(source, text string, ctx RoutingContext)) Unsubscribe

	// SendMessage delivers an outbound message to targetId (typically a
	// channel id). Capability flags on the concrete connector influence only
	// prompt content, never this contract.
	SendMessage(ctx context.Context, targetId string, msg OutgoingMessage) error

	// StartTyping begins a best-effort typing/status indicator.
	StartTyping(ctx context.Context, targetId string) StopTyping

	// RequestPermission optionally asks the user to approve a capability.
	// A connector that does not support this should return
	// ErrNotImplemented; the caller treats it as "no answer".
	RequestPermission(ctx context.Context, targetId string, req PermissionRequest, rctx RoutingContext, descriptor Descriptor) (PermissionDecision, error)

	// Shutdown asks the connector to stop accepting new work.
	Shutdown(ctx context.Context, reason string) error
}

// ErrNotImplemented is returned by a Connector method the concrete adapter
// chooses not to support.
var ErrNotImplemented = errValue("not implemented")

type errValue string

func (e errValue) Error() string { return string(e) }
