package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/relaywire/agentbridge/internal/adapter"
	"github.com/relaywire/agentbridge/internal/protocol"
	"github.com/relaywire/agentbridge/internal/tracing"
)

// attachToSession lazily attaches to a tracked session's adapter-level
// Session the first time a client needs it (subscribe or command), and is
// a no-op on every later call. A session the discovery watcher hasn't
// reported yet is probed against every adapter directly, so a client can
// subscribe to a log that appeared moments ago without waiting for a
// discovery round-trip.
func (o *Orchestrator) attachToSession(ctx context.Context, sessionID string) (*trackedSession, error) {
	o.mu.Lock()
	ts, tracked := o.sessions[sessionID]
	if !tracked {
		ts = &trackedSession{descriptor: protocol.SessionDescriptor{ID: sessionID, Status: protocol.SessionIdle}}
		o.sessions[sessionID] = ts
	}
	o.mu.Unlock()

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.session != nil {
		return ts, nil
	}

	var session adapter.Session
	if ts.adapterName != "" {
		a, err := o.adapterFor(ts.adapterName)
		if err != nil {
			return nil, err
		}
		session, err = a.AttachToSession(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("attach to session %q: %w", sessionID, err)
		}
	} else {
		for name, a := range o.adapters {
			s, err := a.AttachToSession(ctx, sessionID)
			if err != nil {
				continue
			}
			session = s
			ts.adapterName = name
			ts.descriptor.Adapter = name
			break
		}
		if session == nil {
			o.mu.Lock()
			delete(o.sessions, sessionID)
			o.mu.Unlock()
			return nil, fmt.Errorf("orchestrator: unknown session %q", sessionID)
		}
	}

	ts.session = session
	ts.unsubscribe = session.OnEvent(func(ev protocol.Event) {
		o.handleSessionEvent(sessionID, ev)
	})

	return ts, nil
}

// handleSessionEvent forwards one adapter event to the gateway and folds
// session:status_changed / session:completed / session:error into the
// tracked descriptor so a later sessions_list reflects the live state.
func (o *Orchestrator) handleSessionEvent(sessionID string, ev protocol.Event) {
	o.mu.Lock()
	ts, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if ok {
		o.updateDescriptorFromEvent(ts, ev)
	}

	if o.bus != nil {
		o.bus.BroadcastEvent(ev)
	}
	o.publishToRelay(ev)
}

func (o *Orchestrator) updateDescriptorFromEvent(ts *trackedSession, ev protocol.Event) {
	ts.mu.Lock()
	descriptor := &ts.descriptor
	descriptor.LastActivity = ev.Timestamp

	switch ev.Type {
	case protocol.EventSessionStatusChanged:
		if status := ev.GetString("to"); status != "" {
			descriptor.Status = protocol.SessionStatus(status)
		}
	case protocol.EventSessionCompleted:
		descriptor.Status = protocol.SessionCompleted
	case protocol.EventSessionError:
		descriptor.Status = protocol.SessionError
	case protocol.EventMessageComplete:
		text := firstContentText(ev)
		if role := ev.GetString("role"); role == "assistant" {
			descriptor.LastAssistantMessage = text
		} else if role == "user" && descriptor.FirstUserMessage == "" {
			descriptor.FirstUserMessage = text
		}
	case protocol.EventEnvironmentInfo:
		if model := ev.GetString("model"); model != "" {
			descriptor.ModelID = model
		}
	}
	snapshot := *descriptor
	ts.mu.Unlock()

	if o.catalog != nil {
		_ = o.catalog.Upsert(context.Background(), snapshot)
	}
}

// firstContentText pulls the first text block's content out of a
// message:complete event's "content" field, which is always a
// []map[string]any of {"type":"text","text":...} blocks.
func firstContentText(ev protocol.Event) string {
	content, _ := ev.Get("content")
	blocks, ok := content.([]map[string]any)
	if !ok {
		return ""
	}
	for _, b := range blocks {
		if b["type"] == "text" {
			if text, ok := b["text"].(string); ok {
				return text
			}
		}
	}
	return ""
}

// getHistory waits for an attached session's backlog and returns it, first
// lazily attaching if nothing has attached yet.
func (o *Orchestrator) getHistory(ctx context.Context, sessionID string) ([]protocol.Event, error) {
	ts, err := o.attachToSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	ts.mu.Lock()
	session := ts.session
	ts.mu.Unlock()
	return session.GetHistory(ctx), nil
}

// executeCommand routes a command to the session's adapter after ensuring
// it's attached.
func (o *Orchestrator) executeCommand(ctx context.Context, sessionID string, cmd protocol.Command) error {
	ts, err := o.attachToSession(ctx, sessionID)
	if err != nil {
		return err
	}
	ts.mu.Lock()
	session := ts.session
	ts.mu.Unlock()

	ctx, span := tracing.TraceAdapterCommand(ctx, sessionID, string(cmd.Command))
	defer span.End()
	err = session.Execute(ctx, cmd)
	tracing.TraceAdapterResult(span, err)
	return err
}

// startSession asks the named adapter to spawn a brand new session and
// begins tracking/forwarding it immediately, without waiting for a
// subsequent discovery event to notice it.
func (o *Orchestrator) startSession(ctx context.Context, agentName, projectPath, prompt string) error {
	a, err := o.adapterFor(agentName)
	if err != nil {
		return err
	}

	ctx, span := tracing.TraceAdapterStart(ctx, agentName, projectPath)
	defer span.End()

	session, err := a.StartSession(ctx, adapter.StartOptions{
		ProjectPath: projectPath,
		Prompt:      prompt,
	})
	if err != nil {
		tracing.TraceAdapterResult(span, err)
		return fmt.Errorf("start session via %q: %w", agentName, err)
	}

	sessionID := session.ID()
	ts := &trackedSession{
		adapterName: agentName,
		session:     session,
		descriptor: protocol.SessionDescriptor{
			ID:          sessionID,
			Adapter:     agentName,
			ProjectPath: projectPath,
			Status:      protocol.SessionStarting,
		},
	}
	ts.unsubscribe = session.OnEvent(func(ev protocol.Event) {
		o.handleSessionEvent(sessionID, ev)
	})

	o.mu.Lock()
	o.sessions[sessionID] = ts
	o.mu.Unlock()

	o.log.Info("session started", zap.String("adapter", agentName), zap.String("session_id", sessionID))
	o.broadcastSessionsList()
	return nil
}

// terminateSession sends a terminate command to a session and detaches it
// from the orchestrator's bookkeeping; the adapter owns actually killing
// the underlying process.
func (o *Orchestrator) terminateSession(ctx context.Context, sessionID string) error {
	ts, err := o.attachToSession(ctx, sessionID)
	if err != nil {
		return err
	}

	ts.mu.Lock()
	session := ts.session
	unsubscribe := ts.unsubscribe
	ts.mu.Unlock()

	err = session.Execute(ctx, protocol.Command{Command: protocol.CommandTerminate})

	if unsubscribe != nil {
		unsubscribe()
	}
	session.Detach()

	o.mu.Lock()
	delete(o.sessions, sessionID)
	o.mu.Unlock()
	if o.catalog != nil {
		_ = o.catalog.Delete(ctx, sessionID)
	}
	o.broadcastSessionsList()

	return err
}
