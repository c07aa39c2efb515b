package tools

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// InitiatorKind identifies what kind of actor started an execution.
type InitiatorKind string

const (
	InitiatorUser   InitiatorKind = "user"
	InitiatorAgent  InitiatorKind = "agent"
	InitiatorSystem InitiatorKind = "system"
)

// Initiator is the actor that started an execution.
type Initiator struct {
	Kind InitiatorKind `json:"kind"`
	ID   string        `json:"id"`
}

// ExecutionContext is the caller-supplied identity and grant bundle that
// accompanies every call. It is built once by the caller and never mutated;
// derived contexts are copies.
type ExecutionContext struct {
	ExecutionID  string       `json:"executionId"`
	InitiatedBy  Initiator    `json:"initiatedBy"`
	UserID       string       `json:"userId,omitempty"`
	AgentID      string       `json:"agentId,omitempty"`
	SessionID    string       `json:"sessionId,omitempty"`
	Permissions  []string     `json:"permissions,omitempty"`
	Capabilities []Capability `json:"capabilities,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// ContextOption configures a new ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithUser sets the user id.
func WithUser(userID string) ContextOption {
	return func(c *ExecutionContext) {
		c.UserID = userID
	}
}

// WithAgent sets the agent id.
func WithAgent(agentID string) ContextOption {
	return func(c *ExecutionContext) {
		c.AgentID = agentID
	}
}

// WithSession sets the session id.
func WithSession(sessionID string) ContextOption {
	return func(c *ExecutionContext) {
		c.SessionID = sessionID
	}
}

// WithPermissions grants permissions.
func WithPermissions(perms ...string) ContextOption {
	return func(c *ExecutionContext) {
		c.Permissions = append(c.Permissions, perms...)
	}
}

// WithCapabilities grants capabilities.
func WithCapabilities(caps ...Capability) ContextOption {
	return func(c *ExecutionContext) {
		c.Capabilities = append(c.Capabilities, caps...)
	}
}

// NewExecutionContext builds a context with a fresh execution id.
func NewExecutionContext(initiator Initiator, opts ...ContextOption) *ExecutionContext {
	c := &ExecutionContext{
		ExecutionID: uuid.New().String(),
		InitiatedBy: initiator,
		Timestamp:   time.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	switch initiator.Kind {
	case InitiatorUser:
		if c.UserID == "" {
			c.UserID = initiator.ID
		}
	case InitiatorAgent:
		if c.AgentID == "" {
			c.AgentID = initiator.ID
		}
	}
	return c
}

// Derive returns a copy of c with a new execution id and timestamp. The
// grants are copied, so the copy can't alias the parent's slices.
func (c *ExecutionContext) Derive() *ExecutionContext {
	d := *c
	d.ExecutionID = uuid.New().String()
	d.Timestamp = time.Now()
	d.Permissions = append([]string(nil), c.Permissions...)
	d.Capabilities = append([]Capability(nil), c.Capabilities...)
	return &d
}

// HasPermission reports whether the context grants perm.
func (c *ExecutionContext) HasPermission(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// HasCapability reports whether the context grants the capability.
func (c *ExecutionContext) HasCapability(want Capability) bool {
	for _, have := range c.Capabilities {
		if have == want {
			return true
		}
	}
	return false
}

// GrantKey returns a canonical string of the granted capabilities and
// permissions, suitable for cache keys.
func (c *ExecutionContext) GrantKey() string {
	if c == nil {
		return ""
	}
	caps := make([]string, 0, len(c.Capabilities))
	for _, granted := range c.Capabilities {
		caps = append(caps, string(granted))
	}
	sort.Strings(caps)
	perms := append([]string(nil), c.Permissions...)
	sort.Strings(perms)
	return "caps=" + strings.Join(caps, ",") + ";perms=" + strings.Join(perms, ",")
}
