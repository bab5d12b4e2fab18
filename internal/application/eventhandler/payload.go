// Package eventhandler contains the subscribers that turn bus events into
// commands and publish the follow-on events.
package eventhandler

import (
	"encoding/json"
	"fmt"

	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// typedPayload returns the event payload, decoding a GenericPayload into the
// struct registered for the event type.
func typedPayload(event shared.Event) (shared.Payload, error) {
	generic, ok := event.Payload.(shared.GenericPayload)
	if !ok {
		return event.Payload, nil
	}

	raw, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("encode generic %s payload: %w", event.Type, err)
	}
	return shared.DecodePayload(event.Type, raw)
}

// payloadAs returns the event payload as T.
func payloadAs[T shared.Payload](event shared.Event) (T, error) {
	var zero T

	p, err := typedPayload(event)
	if err != nil {
		return zero, err
	}

	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected %s payload %T", event.Type, event.Payload)
	}
	return v, nil
}

// attemptPayload extracts the shared attempt fields from any attempt
// lifecycle payload.
func attemptPayload(event shared.Event) (shared.AttemptPayload, error) {
	p, err := typedPayload(event)
	if err != nil {
		return shared.AttemptPayload{}, err
	}

	switch v := p.(type) {
	case shared.AttemptCompletedPayload:
		return v.AttemptPayload, nil
	case shared.TestSubmittedPayload:
		return v.AttemptPayload, nil
	case shared.AttemptSubmittedPayload:
		return v.AttemptPayload, nil
	default:
		return shared.AttemptPayload{}, fmt.Errorf("unexpected %s payload %T", event.Type, event.Payload)
	}
}
