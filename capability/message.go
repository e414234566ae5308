package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/poiesic/conductor/core"
)

// DefaultSubject is where messages are published unless configured otherwise.
const DefaultSubject = "conductor.messages"

// Publisher sends a payload on a subject. *nats.Conn implements it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// Message is the JSON payload published by MessageExecutor.
type Message struct {
	Text       string    `json:"text"`
	SourceNode string    `json:"source_node"`
	PlanID     string    `json:"plan_id"`
	SentAt     time.Time `json:"sent_at"`
}

// MessageExecutor publishes upstream output, or the node's "text" input when
// there is none, as a JSON Message.
type MessageExecutor struct {
	publisher Publisher
	subject   string
	now       func() time.Time
}

// NewMessageExecutor creates a post-message executor.
func NewMessageExecutor(publisher Publisher, subject string) (*MessageExecutor, error) {
	if publisher == nil {
		return nil, ErrPublisherRequired
	}
	if subject == "" {
		subject = DefaultSubject
	}
	return &MessageExecutor{publisher: publisher, subject: subject, now: time.Now}, nil
}

// ConnectNATS dials a NATS server for use as a Publisher.
func ConnectNATS(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: connect to nats: %w", core.ErrProviderUnavailable, err)
	}
	return nc, nil
}

// Capability implements Executor.
func (e *MessageExecutor) Capability() core.Capability { return core.CapabilityPostMessage }

// Invoke implements Executor.
func (e *MessageExecutor) Invoke(ctx context.Context, inv *core.Invocation) (*core.Output, error) {
	text := upstreamText(inv)
	if text == "" {
		text = input(inv, "text")
	}
	if text == "" {
		return nil, fmt.Errorf("%w: nothing to post", core.ErrInvalidRequest)
	}

	subject := input(inv, "subject")
	if subject == "" {
		subject = e.subject
	}

	msg := Message{Text: text, PlanID: inv.PlanID, SentAt: e.now().UTC()}
	if inv.Node != nil {
		msg.SourceNode = string(inv.Node.ID)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.publisher.Publish(subject, data); err != nil {
		return nil, fmt.Errorf("%w: publish to %s: %w", core.ErrProviderUnavailable, subject, err)
	}

	return &core.Output{
		Text:          fmt.Sprintf("Posted message to %s.", subject),
		CitedChunkIDs: upstreamCitations(inv),
		Data:          map[string]string{"subject": subject},
	}, nil
}
