package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tryouthub/learning-pipeline/config"
	"github.com/tryouthub/learning-pipeline/internal/application/query"
	"github.com/tryouthub/learning-pipeline/internal/domain/shared"
)

// publishSettle is how long publish waits for follow-on events before the
// bus is closed.
const publishSettle = time.Second

// inspectOnly keeps one-shot commands off the broker and the scheduler.
func inspectOnly(cfg *config.Config) {
	cfg.Queue.Durable = false
	cfg.Scheduler.Enabled = false
}

func runPublish(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), inspectOnly, func(ctx context.Context, a *app) error {
		event, err := publishEvent(ctx, a, args[0], args[1])
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
		case <-time.After(publishSettle):
		}

		return writeJSON(cmd.OutOrStdout(), map[string]any{
			"id":           event.ID,
			"type":         event.Type,
			"aggregate_id": event.AggregateID,
			"handlers":     a.bus.Handlers(event.Type),
		})
	})
}

func runAuditList(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), inspectOnly, func(ctx context.Context, a *app) error {
		return writeAuditList(ctx, a, cmd.OutOrStdout(), query.ListEventLogQuery{
			Limit:     listLimit,
			Status:    listStatus,
			EventType: listEventType,
		})
	})
}

func runAuditSummary(cmd *cobra.Command, _ []string) error {
	return withApp(cmd.Context(), inspectOnly, func(ctx context.Context, a *app) error {
		return writeAuditSummary(ctx, a, cmd.OutOrStdout(), summaryLimit)
	})
}

func runRecommendations(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), inspectOnly, func(ctx context.Context, a *app) error {
		return writeRecommendations(ctx, a, cmd.OutOrStdout(), args[0])
	})
}

// publishEvent decodes raw for eventType and publishes it.
func publishEvent(ctx context.Context, a *app, eventType, raw string) (shared.Event, error) {
	if eventType == "" {
		return shared.Event{}, shared.ValidationError("cli", "publish", "event type is required")
	}

	payload, err := shared.DecodePayload(shared.EventType(eventType), json.RawMessage(raw))
	if err != nil {
		return shared.Event{}, fmt.Errorf("decode %s payload: %w", eventType, err)
	}

	return a.bus.Publish(ctx, payload), nil
}

func writeAuditList(ctx context.Context, a *app, w io.Writer, q query.ListEventLogQuery) error {
	entries, err := a.auditLog.List(ctx, q)
	if err != nil {
		return err
	}

	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		row := map[string]any{
			"id":           e.ID,
			"event_id":     e.EventID,
			"event_type":   e.EventType,
			"aggregate_id": e.AggregateID,
			"handler":      e.Handler,
			"status":       e.Status,
			"created_at":   e.CreatedAt.Format(time.RFC3339),
		}
		if e.ErrorMessage != "" {
			row["error_message"] = e.ErrorMessage
		}
		out = append(out, row)
	}
	return writeJSON(w, out)
}

func writeAuditSummary(ctx context.Context, a *app, w io.Writer, limit int) error {
	summary, err := a.auditLog.Summarize(ctx, query.SummarizeEventLogQuery{Limit: limit})
	if err != nil {
		return err
	}

	types := make([]map[string]any, 0, len(summary.ByType))
	for _, tc := range summary.ByType {
		row := map[string]any{
			"event_type": tc.EventType,
			"processed":  tc.Processed,
			"failed":     tc.Failed,
		}
		if tc.LastFailure != nil {
			row["last_failure"] = map[string]any{
				"handler":       tc.LastFailure.Handler,
				"aggregate_id":  tc.LastFailure.AggregateID,
				"error_message": tc.LastFailure.ErrorMessage,
				"at":            tc.LastFailure.At.Format(time.RFC3339),
			}
		}
		types = append(types, row)
	}

	return writeJSON(w, map[string]any{
		"scanned": summary.Scanned,
		"by_type": types,
	})
}

func writeRecommendations(ctx context.Context, a *app, w io.Writer, userID string) error {
	feed, err := a.feed.Handle(ctx, query.GetRecommendationsQuery{UserID: userID})
	if err != nil {
		return err
	}
	return writeJSON(w, feed)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
