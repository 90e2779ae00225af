package app

import (
	"context"
	"fmt"

	"projectflow/internal/domain"
	"projectflow/internal/engine"
	"projectflow/internal/outbox"
)

// Replayer feeds outbox commands back into the engine.
type Replayer struct {
	Engine engine.Engine
}

var _ outbox.Dispatcher = Replayer{}

func (r Replayer) Dispatch(ctx context.Context, c outbox.Command) error {
	e := r.Engine
	switch c.Kind {
	case outbox.KindReserve:
		var in outbox.Reserve
		if err := c.Decode(&in); err != nil {
			return err
		}
		_, err := e.ReserveProject(ctx, in.ProjectID, in.StudentID)
		return err
	case outbox.KindDecideReservation:
		var in outbox.Decision
		if err := c.Decode(&in); err != nil {
			return err
		}
		d, err := engine.ParseDecision(in.Decision)
		if err != nil {
			return err
		}
		_, err = e.DecideReservation(ctx, in.TargetID, in.ActorID, d, in.Feedback)
		return err
	case outbox.KindSubmit:
		var in outbox.Submit
		if err := c.Decode(&in); err != nil {
			return err
		}
		_, err := e.SubmitProject(ctx, in.ProjectID, in.ActorID, in.Note)
		return err
	case outbox.KindDecideProject:
		var in outbox.Decision
		if err := c.Decode(&in); err != nil {
			return err
		}
		d, err := engine.ParseDecision(in.Decision)
		if err != nil {
			return err
		}
		_, err = e.DecideProject(ctx, in.TargetID, in.ActorID, d, in.Feedback)
		return err
	case outbox.KindTask:
		var in engine.TaskMutation
		if err := c.Decode(&in); err != nil {
			return err
		}
		_, err := e.MutateTask(ctx, in)
		return err
	case outbox.KindTimeline:
		var in engine.TimelineMutation
		if err := c.Decode(&in); err != nil {
			return err
		}
		_, err := e.MutateTimelineEvent(ctx, in)
		return err
	default:
		return domain.InvalidArgument("outbox_command", c.ID, fmt.Sprintf("unknown kind %q", c.Kind))
	}
}

// Deferred enqueues the command when err says the store is unreachable and
// reports whether it did. Any other error is left to the caller.
func Deferred(ctx context.Context, o *outbox.Outbox, err error, kind outbox.Kind, payload any) (outbox.Command, bool, error) {
	if !domain.Retryable(err) || o == nil {
		return outbox.Command{}, false, err
	}
	c, qerr := o.Enqueue(ctx, kind, payload)
	if qerr != nil {
		return outbox.Command{}, false, fmt.Errorf("%w (queueing failed: %v)", err, qerr)
	}
	return c, true, nil
}
