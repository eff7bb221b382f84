package redom

import (
	"context"
	"encoding/json"

	pkgerrors "github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/redom-dev/redom")

// Executor dispatches a plan's commands to the store one script at a
// time. Each command is atomic on the server; the executor stops at the
// first failure, leaving later commands unapplied.
type Executor struct {
	rdb redis.Scripter
	log *zap.Logger
}

func NewExecutor(rdb redis.Scripter, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{rdb: rdb, log: log}
}

// Execute runs every command in order and returns the decoded replies.
func (e *Executor) Execute(ctx context.Context, plan Plan) ([]map[string]any, error) {
	replies := make([]map[string]any, 0, len(plan.Commands))

	for _, command := range plan.Commands {
		reply, err := e.run(ctx, command)
		if err != nil {
			return nil, err
		}
		replies = append(replies, reply)
	}

	return replies, nil
}

func (e *Executor) run(ctx context.Context, command Command) (map[string]any, error) {
	kind := command.Kind()
	script := command.script()
	if script == nil {
		return nil, &ScriptError{Kind: "internal_error", Message: "empty command envelope"}
	}

	payload, err := json.Marshal(command)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "serialize command")
	}

	ctx, span := tracer.Start(ctx, "redom.script")
	span.SetAttributes(attribute.String("redom.command", kind))
	defer span.End()

	e.log.Debug("dispatching script", zap.String("command", kind))

	raw, err := script.Run(ctx, e.rdb, []string{}, string(payload)).Text()
	if err != nil {
		e.log.Warn("script failed", zap.String("command", kind), zap.Error(err))
		return nil, pkgerrors.Wrapf(err, "run %s script", kind)
	}

	var reply map[string]any
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, pkgerrors.Wrapf(err, "parse %s reply", kind)
	}

	if kindValue, ok := reply["error"]; ok {
		err := decodeScriptError(kindValue, reply)
		e.log.Warn("script reported error", zap.String("command", kind), zap.Error(err))
		return nil, err
	}

	return reply, nil
}

// decodeScriptError maps the error kind of a script reply to the typed
// client error. Unknown kinds surface as ScriptError verbatim.
func decodeScriptError(kindValue any, reply map[string]any) error {
	kind, _ := kindValue.(string)
	switch kind {
	case "version_conflict":
		return &VersionConflictError{
			Expected: replyInt(reply, "expected"),
			Actual:   replyInt(reply, "actual"),
		}
	case "entity_not_found":
		id, _ := reply["entity_id"].(string)
		return &NotFoundError{EntityID: id}
	case "unique_constraint_violation":
		return &UniqueConstraintError{
			Fields:           replyStrings(reply, "fields"),
			Values:           replyStrings(reply, "values"),
			ExistingEntityID: replyString(reply, "existing_entity_id"),
		}
	}
	message, _ := reply["message"].(string)
	if kind == "" {
		kind = "internal_error"
	}
	return &ScriptError{Kind: kind, Message: message}
}

func replyInt(reply map[string]any, key string) *int64 {
	value, ok := reply[key].(float64)
	if !ok {
		return nil
	}
	n := int64(value)
	return &n
}

func replyString(reply map[string]any, key string) string {
	value, _ := reply[key].(string)
	return value
}

func replyStrings(reply map[string]any, key string) []string {
	raw, ok := reply[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		} else {
			out = append(out, jsonString(item))
		}
	}
	return out
}
