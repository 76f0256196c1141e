// Package runner owns the lifecycle of asynchronous flow runs and chat
// turns.
//
// A Runner keeps at most one active run per flow id and at most one writer
// per conversation. A flow run, a chat turn and an alternative edit
// (Exclusive) never overlap on the same message store: the second one fails
// with ErrAlreadyRunning. The exception is a chat turn replacing another
// turn, which cancels the turn in progress and waits for it to settle
// before the new one touches the conversation.
//
// Runs execute on their own goroutine and are observed through a Handle:
//
//	h, err := r.Start(ctx, f, store)
//	...
//	_ = r.Cancel(f.ID())
//	err = h.Wait()
//
// Graph edits go through Edit. Each edit waits for the step that is
// currently executing, so a run never observes a half-applied change.
package runner
