// Package chat runs conversation turns against an agent and mirrors every
// turn into the observability platform as a thread of steps.
//
// A turn resolves its conversation, persists the human message, invokes the
// agent's platform mirror and persists the reply. Trace writes go through a
// besteffort.Runner so a slow or broken observability backend never delays
// or fails the reply.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/agentoven/agentdesk/internal/integrations/observability"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/internal/telemetry"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"
)

// DefaultInvokeTimeout bounds a single agent invocation.
const DefaultInvokeTimeout = 90 * time.Second

const maxConversationIDLength = 128

// User-facing failure messages. The underlying error is only logged.
const (
	msgInvokeFailed  = "The agent could not respond right now. Please try again."
	msgInvokeTimeout = "The agent took too long to respond. Please try again."
)

// Orchestrator handles chat turns.
type Orchestrator struct {
	store         store.Store
	platform      platform.Client
	tracker       *observability.Tracker
	runner        *besteffort.Runner
	invokeTimeout time.Duration

	threads singleflight.Group

	mu      sync.Mutex
	cursors map[string]string // conversation id -> last tracked message id
}

// NewOrchestrator wires an orchestrator. platform may be nil, in which case
// every reply is simulated.
func NewOrchestrator(s store.Store, p platform.Client, tracker *observability.Tracker, runner *besteffort.Runner, invokeTimeout time.Duration) *Orchestrator {
	if invokeTimeout <= 0 {
		invokeTimeout = DefaultInvokeTimeout
	}
	return &Orchestrator{
		store:         s,
		platform:      p,
		tracker:       tracker,
		runner:        runner,
		invokeTimeout: invokeTimeout,
		cursors:       make(map[string]string),
	}
}

// Chat runs one turn. Invocation failures are reported in ChatResult.Error
// with the conversation id preserved; the returned error is reserved for bad
// input, unknown or private agents and store failures on the conversation.
func (o *Orchestrator) Chat(ctx context.Context, req models.ChatRequest) (*models.ChatResult, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, apperr.Validation("message is required")
	}

	agent, err := o.store.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	if !agent.Public && agent.OwnerID != req.CallerID {
		return nil, apperr.Forbidden("agent is private")
	}

	ctx, span := telemetry.Tracer("chat").Start(ctx, "chat.turn")
	defer span.End()

	conv, isNew, err := o.resolveConversation(ctx, agent, req.CallerID, req.ConversationID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("agent.id", agent.ID),
		attribute.String("conversation.id", conv.ID),
		attribute.Bool("conversation.new", isNew),
	)

	human := o.appendMessage(ctx, conv.ID, models.RoleHuman, message, nil)
	o.trackAsync(ctx, conv, human)

	result := &models.ChatResult{ConversationID: conv.ID}

	reply, meta, invokeErr := o.invoke(ctx, agent, conv.ID, message)
	if invokeErr != nil {
		span.RecordError(invokeErr)
		span.SetStatus(codes.Error, "invoke failed")
		log.Warn().Err(invokeErr).
			Str("agent_id", agent.ID).
			Str("conversation_id", conv.ID).
			Msg("Agent invocation failed")

		result.Error = msgInvokeFailed
		if errors.Is(invokeErr, context.DeadlineExceeded) {
			result.Error = msgInvokeTimeout
		}
		failure := o.appendMessage(ctx, conv.ID, models.RoleSystem, result.Error, map[string]interface{}{"error": invokeErr.Error()})
		o.advanceCursor(conv.ID, failure.ID)
		o.runner.Go(ctx, "chat.track_error", besteffort.Fields{"conversation_id": conv.ID}, func(ctx context.Context) error {
			threadID := o.ensureThread(ctx, conv)
			o.tracker.TrackError(ctx, threadID, invokeErr.Error(), map[string]interface{}{"agent_id": agent.ID})
			return nil
		})
		return result, nil
	}

	meta["agent_id"] = agent.ID
	// The stored message keeps its own copy: the tracking goroutine reads it
	// while the caller encodes the result.
	ai := o.appendMessage(ctx, conv.ID, models.RoleAI, reply, copyMetadata(meta))
	meta["message_id"] = ai.ID
	o.trackAsync(ctx, conv, ai)

	result.Message = reply
	result.Metadata = meta
	return result, nil
}

// invoke calls the agent's mirror, or synthesizes a reply when the agent has
// none yet.
func (o *Orchestrator) invoke(ctx context.Context, agent *models.Agent, conversationID, message string) (string, map[string]interface{}, error) {
	if o.platform == nil || !agent.Mirrored() {
		reply := fmt.Sprintf("%s is not connected to the execution platform yet. This is a simulated reply to: %q", agent.Name, message)
		return reply, map[string]interface{}{"simulated": true}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, o.invokeTimeout)
	defer cancel()

	start := time.Now()
	inv, err := o.platform.InvokeAgent(ctx, agent.Config.ExternalRef, message, conversationID)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ctx.Err(), err)
		}
		return "", nil, err
	}

	meta := make(map[string]interface{}, len(inv.Metadata)+2)
	for k, v := range inv.Metadata {
		meta[k] = v
	}
	meta["latency_ms"] = time.Since(start).Milliseconds()
	return inv.Output, meta, nil
}

// ── Conversations ───────────────────────────────────────────

// resolveConversation resumes the conversation named by requestedID only when
// it belongs to the same agent and the same identified caller. A foreign id
// silently starts a new conversation; an id nobody has used yet is adopted.
// Anonymous callers cannot prove who they are, so they never resume.
func (o *Orchestrator) resolveConversation(ctx context.Context, agent *models.Agent, callerID, requestedID string) (*models.Conversation, bool, error) {
	requestedID = strings.TrimSpace(requestedID)
	if len(requestedID) > maxConversationIDLength {
		return nil, false, apperr.Validation("conversation id must be at most %d characters", maxConversationIDLength)
	}

	if requestedID != "" {
		conv, err := o.store.GetConversation(ctx, requestedID)
		switch {
		case err == nil:
			if callerID != "" && conv.AgentID == agent.ID && conv.CallerID == callerID {
				return conv, false, nil
			}
			log.Info().
				Str("agent_id", agent.ID).
				Str("requested_id", requestedID).
				Msg("Conversation id not resumable by caller, starting a new conversation")
			requestedID = ""
		case isNotFound(err):
		default:
			return nil, false, apperr.Internal("get conversation", err)
		}
	}

	conv := &models.Conversation{
		ID:        requestedID,
		AgentID:   agent.ID,
		CallerID:  callerID,
		CreatedAt: time.Now().UTC(),
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if err := o.store.CreateConversation(ctx, conv); err != nil {
		var conflict *store.ErrConflict
		if errors.As(err, &conflict) && requestedID != "" {
			// Lost a race for the same client-generated id; the lookup now finds it.
			return o.resolveConversation(ctx, agent, callerID, requestedID)
		}
		return nil, false, apperr.Internal("create conversation", err)
	}

	log.Info().
		Str("agent_id", agent.ID).
		Str("conversation_id", conv.ID).
		Msg("Conversation started")
	return conv, true, nil
}

// Conversation returns the conversation if callerID may act on it. Only the
// identified caller who started it may; anonymous conversations are write-only.
func (o *Orchestrator) Conversation(ctx context.Context, callerID, agentID, conversationID string) (*models.Conversation, error) {
	if callerID == "" {
		return nil, apperr.Forbidden("authentication required")
	}
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, storeErr("get conversation", err)
	}
	if conv.AgentID != agentID {
		return nil, apperr.NotFound("conversation", conversationID)
	}
	if conv.CallerID != callerID {
		return nil, apperr.Forbidden("conversation belongs to another caller")
	}
	return conv, nil
}

// ListConversations returns the agent's recent conversations. The owner sees
// all of them; other identified callers see only their own.
func (o *Orchestrator) ListConversations(ctx context.Context, callerID, agentID string, limit int) ([]models.Conversation, error) {
	agent, err := o.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	if callerID == "" {
		return nil, apperr.Forbidden("authentication required")
	}

	convs, err := o.store.ListConversations(ctx, agentID, limit)
	if err != nil {
		return nil, apperr.Internal("list conversations", err)
	}
	if agent.OwnerID == callerID {
		return convs, nil
	}
	if !agent.Public {
		return nil, apperr.Forbidden("agent is private")
	}
	mine := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if c.CallerID == callerID {
			mine = append(mine, c)
		}
	}
	return mine, nil
}

// Messages returns the stored transcript of a conversation.
func (o *Orchestrator) Messages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs, err := o.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, apperr.Internal("list messages", err)
	}
	return msgs, nil
}

// ── Messages ────────────────────────────────────────────────

func (o *Orchestrator) newMessage(conversationID string, role models.Role, content string, meta map[string]interface{}) *models.Message {
	return &models.Message{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
}

// appendMessage persists a message. A failed write is logged; the turn goes on.
func (o *Orchestrator) appendMessage(ctx context.Context, conversationID string, role models.Role, content string, meta map[string]interface{}) *models.Message {
	msg := o.newMessage(conversationID, role, content, meta)
	if err := o.store.AppendMessage(ctx, msg); err != nil {
		log.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("role", string(role)).
			Msg("Failed to persist chat message")
	}
	return msg
}

func copyMetadata(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ── Tracking ────────────────────────────────────────────────

// trackAsync claims msg in the conversation's cursor before handing it to the
// runner, so a transcript posted while the write is in flight skips it.
func (o *Orchestrator) trackAsync(ctx context.Context, conv *models.Conversation, msg *models.Message) {
	o.advanceCursor(conv.ID, msg.ID)
	o.runner.Go(ctx, "chat.track_message", besteffort.Fields{"conversation_id": conv.ID, "message_id": msg.ID}, func(ctx context.Context) error {
		o.trackMessage(ctx, o.ensureThread(ctx, conv), *msg)
		return nil
	})
}

func (o *Orchestrator) trackMessage(ctx context.Context, threadID string, msg models.Message) {
	meta := map[string]interface{}{"message_id": msg.ID}
	for k, v := range msg.Metadata {
		meta[k] = v
	}
	switch msg.Role {
	case models.RoleAI:
		o.tracker.TrackAssistantMessage(ctx, threadID, msg.Content, meta)
	case models.RoleSystem:
		o.tracker.TrackSystem(ctx, threadID, "system_message", msg.Content, meta)
	default:
		o.tracker.TrackUserMessage(ctx, threadID, msg.Content, meta)
	}
}

// ensureThread returns the conversation's thread id, creating and persisting
// the thread on first use. Concurrent callers for one conversation share a
// single creation. A placeholder id is returned but never persisted, so the
// next turn tries again.
func (o *Orchestrator) ensureThread(ctx context.Context, conv *models.Conversation) string {
	v, _, _ := o.threads.Do(conv.ID, func() (interface{}, error) {
		if stored, err := o.store.GetConversation(ctx, conv.ID); err == nil && stored.ThreadID != "" {
			return stored.ThreadID, nil
		}

		thread := o.tracker.CreateThread(ctx, "conversation "+conv.ID, map[string]interface{}{
			"conversation_id": conv.ID,
			"agent_id":        conv.AgentID,
			"caller_id":       conv.CallerID,
		})
		if thread.Placeholder {
			return thread.ID, nil
		}
		if err := o.store.SetConversationThread(ctx, conv.ID, thread.ID); err != nil {
			log.Warn().Err(err).
				Str("conversation_id", conv.ID).
				Str("thread_id", thread.ID).
				Msg("Failed to persist thread id")
		}
		return thread.ID, nil
	})
	return v.(string)
}

// advanceCursor moves the conversation's cursor forward, never back.
func (o *Orchestrator) advanceCursor(conversationID, messageID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if messageID > o.cursors[conversationID] {
		o.cursors[conversationID] = messageID
	}
}

// claim returns the messages newer than the conversation's cursor, in id
// order, and moves the cursor past them in the same critical section.
func (o *Orchestrator) claim(conversationID string, msgs []models.Message) []models.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	after := o.cursors[conversationID]

	pending := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != "" && m.ID > after {
			pending = append(pending, m)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	o.cursors[conversationID] = pending[len(pending)-1].ID
	return pending
}

// TrackTranscript sends the messages newer than the conversation's cursor
// and returns how many were issued. Messages without an id are ignored. A
// re-rendered transcript therefore produces no duplicate steps.
func (o *Orchestrator) TrackTranscript(ctx context.Context, conversationID string, msgs []models.Message) int {
	pending := o.claim(conversationID, msgs)
	if len(pending) == 0 {
		return 0
	}

	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		conv = &models.Conversation{ID: conversationID}
	}
	o.runner.Go(ctx, "chat.track_transcript", besteffort.Fields{"conversation_id": conversationID}, func(ctx context.Context) error {
		threadID := o.ensureThread(ctx, conv)
		for _, m := range pending {
			o.trackMessage(ctx, threadID, m)
		}
		return nil
	})
	return len(pending)
}

// EndConversation records a best-effort "conversation ended" step and drops
// the conversation's cursor. Nothing guarantees it is ever called.
func (o *Orchestrator) EndConversation(ctx context.Context, conversationID string) {
	conv, err := o.store.GetConversation(ctx, conversationID)
	if err != nil {
		conv = &models.Conversation{ID: conversationID}
	}

	o.mu.Lock()
	delete(o.cursors, conversationID)
	o.mu.Unlock()

	o.runner.Go(ctx, "chat.end_conversation", besteffort.Fields{"conversation_id": conversationID}, func(ctx context.Context) error {
		if conv.ThreadID == "" {
			return nil
		}
		o.tracker.TrackSystem(ctx, conv.ThreadID, "conversation_ended", "Conversation ended", map[string]interface{}{
			"ended_at": time.Now().UTC().Format(time.RFC3339),
		})
		return nil
	})
}

// Close waits for in-flight tracking to finish.
func (o *Orchestrator) Close() {
	o.runner.Wait()
}

func isNotFound(err error) bool {
	var nf *store.ErrNotFound
	return errors.As(err, &nf)
}

func storeErr(msg string, err error) error {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return apperr.NotFound(nf.Entity, nf.Key)
	}
	return apperr.Internal(msg, err)
}
