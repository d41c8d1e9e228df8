// Package events publishes terminal run outcomes to EventBridge.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	eventbridgetypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/rs/zerolog/log"
)

// Source is the EventBridge source of every event.
const Source = "vr-panorama"

// Detail types.
const (
	DetailCompleted = "PanoramaCompleted"
	DetailFailed    = "PanoramaFailed"
)

// PutEventsAPI is the subset of *eventbridge.Client the emitter uses.
type PutEventsAPI interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// RunEvent is the event detail.
type RunEvent struct {
	RunID      string `json:"runId"`
	State      string `json:"state"`
	Stage      string `json:"stage,omitempty"`
	AudioID    string `json:"audioId,omitempty"`
	FinalImage string `json:"finalImage,omitempty"`
	ErrorKind  string `json:"errorKind,omitempty"`
	Error      string `json:"error,omitempty"`
	ElapsedMs  int64  `json:"elapsedMs"`
	Timestamp  string `json:"timestamp"`
}

// Emitter sends run events to one bus.
type Emitter struct {
	client PutEventsAPI
	bus    string
}

// NewEmitter creates an emitter. An empty bus uses the account default bus.
func NewEmitter(client PutEventsAPI, bus string) *Emitter {
	return &Emitter{client: client, bus: bus}
}

// Emit publishes ev. The detail type follows ev.Stage: failures carry the
// failing stage, completions carry none.
func (e *Emitter) Emit(ctx context.Context, ev RunEvent) error {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	// Inline images do not fit the 256KB entry limit.
	if len(ev.FinalImage) > 2048 {
		ev.FinalImage = ""
	}
	detail, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal RunEvent: %w", err)
	}

	detailType := DetailCompleted
	if ev.Stage != "" {
		detailType = DetailFailed
	}
	entry := eventbridgetypes.PutEventsRequestEntry{
		Source:     aws.String(Source),
		DetailType: aws.String(detailType),
		Detail:     aws.String(string(detail)),
	}
	if e.bus != "" {
		entry.EventBusName = aws.String(e.bus)
	}

	result, err := e.client.PutEvents(ctx, &eventbridge.PutEventsInput{
		Entries: []eventbridgetypes.PutEventsRequestEntry{entry},
	})
	if err != nil {
		log.Error().Err(err).Str("runId", ev.RunID).Str("detailType", detailType).Msg("EventBridge PutEvents failed")
		return fmt.Errorf("PutEvents: %w", err)
	}
	if result.FailedEntryCount > 0 {
		for i, entry := range result.Entries {
			if entry.ErrorCode != nil || entry.ErrorMessage != nil {
				log.Error().
					Int("index", i).
					Str("errorCode", aws.ToString(entry.ErrorCode)).
					Str("errorMessage", aws.ToString(entry.ErrorMessage)).
					Str("runId", ev.RunID).
					Msg("EventBridge PutEvents entry failed")
				return fmt.Errorf("PutEvents entry %d failed: %s - %s", i, aws.ToString(entry.ErrorCode), aws.ToString(entry.ErrorMessage))
			}
		}
	}

	log.Debug().Str("runId", ev.RunID).Str("detailType", detailType).Msg("Run event emitted to EventBridge")
	return nil
}
