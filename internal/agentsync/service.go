// Package agentsync keeps agents in the primary store linked to their mirror
// on the execution platform through config.externalRef.
//
// The primary store write always happens first and is authoritative. Mirror
// calls are best-effort: a failure is logged and the agent stays usable
// locally with externalRef absent until a later update or a reconciler sweep
// mirrors it.
package agentsync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/agentoven/agentdesk/internal/blob"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/internal/telemetry"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxNameLength        = 200
	maxDescriptionLength = 4000
)

// ErrPlatformDisabled is returned by Mirror when no execution platform is configured.
var ErrPlatformDisabled = errors.New("execution platform not configured")

// Service is the agent synchronization service.
type Service struct {
	store    store.Store
	platform platform.Client
	blobs    blob.Store
}

// Option configures a Service.
type Option func(*Service)

// WithBlobStore lets Delete remove the stored files of the agent's file knowledge.
func WithBlobStore(b blob.Store) Option {
	return func(s *Service) { s.blobs = b }
}

// NewService creates the service. A nil platform client disables mirroring.
func NewService(s store.Store, p platform.Client, opts ...Option) *Service {
	svc := &Service{store: s, platform: p}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ── Lifecycle ───────────────────────────────────────────────

// Create inserts the agent and then tries to mirror it once.
func (s *Service) Create(ctx context.Context, ownerID string, in models.AgentInput) (*models.Agent, error) {
	if ownerID == "" {
		return nil, apperr.Forbidden("authentication required to create agents")
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateAgent(in.Name, in.Description, in.Config); err != nil {
		return nil, err
	}

	cfg := in.Config
	cfg.ExternalRef = ""
	agent := &models.Agent{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Name:        in.Name,
		Description: in.Description,
		Public:      in.Public,
		Config:      cfg,
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, apperr.Internal("create agent", err)
	}

	log.Info().Str("agent_id", agent.ID).Str("owner_id", ownerID).Msg("Agent created")

	s.mirrorBestEffort(ctx, agent)
	return agent, nil
}

// Update applies patch, then updates the mirror or lazily creates it.
func (s *Service) Update(ctx context.Context, callerID, agentID string, patch models.AgentPatch) (*models.Agent, error) {
	agent, err := s.ownedAgent(ctx, callerID, agentID)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		agent.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		agent.Description = *patch.Description
	}
	if patch.Public != nil {
		agent.Public = *patch.Public
	}
	if patch.Config != nil {
		ref := agent.Config.ExternalRef
		agent.Config = *patch.Config
		agent.Config.ExternalRef = ref
	}
	if err := validateAgent(agent.Name, agent.Description, agent.Config); err != nil {
		return nil, err
	}

	if err := s.store.UpdateAgent(ctx, agent); err != nil {
		return nil, storeErr("update agent", err)
	}

	log.Info().Str("agent_id", agent.ID).Msg("Agent updated")

	s.mirrorBestEffort(ctx, agent)
	return agent, nil
}

// Delete removes the agent's knowledge and the agent, then the mirror.
// Mirror and blob failures are logged only.
func (s *Service) Delete(ctx context.Context, callerID, agentID string) error {
	agent, err := s.ownedAgent(ctx, callerID, agentID)
	if err != nil {
		return err
	}

	var files []models.KnowledgeItem
	if s.blobs != nil {
		items, err := s.store.ListKnowledge(ctx, agentID)
		if err != nil {
			return apperr.Internal("list knowledge", err)
		}
		for _, item := range items {
			if item.ContentType == models.ContentFile {
				files = append(files, item)
			}
		}
	}

	removed, err := s.store.DeleteKnowledgeByAgent(ctx, agentID)
	if err != nil {
		return apperr.Internal("delete knowledge", err)
	}
	if err := s.store.DeleteAgent(ctx, agentID); err != nil {
		return storeErr("delete agent", err)
	}

	log.Info().Str("agent_id", agentID).Int("knowledge_removed", removed).Msg("Agent deleted")

	for _, item := range files {
		path := item.StoragePath()
		if path == "" {
			continue
		}
		besteffort.Do(ctx, "blob.delete", besteffort.Fields{"agent_id": agentID, "item_id": item.ID}, func(ctx context.Context) error {
			return s.blobs.Delete(ctx, path)
		})
	}

	if agent.Mirrored() && s.platform != nil {
		besteffort.Do(ctx, "platform.delete_agent", besteffort.Fields{"agent_id": agentID, "external_ref": agent.Config.ExternalRef},
			func(ctx context.Context) error {
				return s.platform.DeleteAgent(ctx, agent.Config.ExternalRef)
			})
	}
	return nil
}

// Get returns an agent visible to callerID: any public agent, or a private
// one the caller owns.
func (s *Service) Get(ctx context.Context, callerID, agentID string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	if !agent.Public && agent.OwnerID != callerID {
		return nil, apperr.Forbidden("agent is private")
	}
	return agent, nil
}

// List returns the caller's own agents followed by other owners' public agents.
func (s *Service) List(ctx context.Context, callerID string) ([]models.Agent, error) {
	result := make([]models.Agent, 0)
	if callerID != "" {
		mine, err := s.store.ListAgentsByOwner(ctx, callerID)
		if err != nil {
			return nil, apperr.Internal("list agents", err)
		}
		result = append(result, mine...)
	}

	public, err := s.store.ListPublicAgents(ctx)
	if err != nil {
		return nil, apperr.Internal("list agents", err)
	}
	for _, a := range public {
		if a.OwnerID != callerID {
			result = append(result, a)
		}
	}
	return result, nil
}

// ── Mirroring ───────────────────────────────────────────────

// Mirror creates or updates the platform copy of agent and persists the
// resulting externalRef. It is the only place mirror state changes, and it is
// safe to retry: a failed call leaves externalRef as it was.
func (s *Service) Mirror(ctx context.Context, agent *models.Agent) (string, error) {
	if s.platform == nil {
		return "", ErrPlatformDisabled
	}

	ctx, span := telemetry.Tracer("agentsync").Start(ctx, "agentsync.mirror")
	defer span.End()
	span.SetAttributes(attribute.String("agent.id", agent.ID), attribute.Bool("agent.mirrored", agent.Mirrored()))

	ref, err := s.mirror(ctx, agent)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("agent.external_ref", ref))
	return ref, nil
}

func (s *Service) mirror(ctx context.Context, agent *models.Agent) (string, error) {
	spec := SpecFor(agent)

	if agent.Mirrored() {
		_, err := s.platform.UpdateAgent(ctx, agent.Config.ExternalRef, spec)
		if err == nil {
			return agent.Config.ExternalRef, nil
		}
		if platform.StatusCode(err) != 404 {
			return "", err
		}
		// The mirror vanished on the platform side; create a fresh one.
		log.Warn().Str("agent_id", agent.ID).Str("external_ref", agent.Config.ExternalRef).Msg("Mirror missing on platform, recreating")
	}

	ext, err := s.platform.CreateAgent(ctx, spec)
	if err != nil {
		return "", err
	}
	if err := s.store.SetAgentExternalRef(ctx, agent.ID, ext.ID); err != nil {
		return "", fmt.Errorf("persist external ref %s: %w", ext.ID, err)
	}
	agent.Config.ExternalRef = ext.ID

	log.Info().Str("agent_id", agent.ID).Str("external_ref", ext.ID).Msg("Agent mirrored")
	return ext.ID, nil
}

func (s *Service) mirrorBestEffort(ctx context.Context, agent *models.Agent) {
	if s.platform == nil {
		return
	}
	besteffort.Do(ctx, "agentsync.mirror", besteffort.Fields{"agent_id": agent.ID, "external_ref": agent.Config.ExternalRef},
		func(ctx context.Context) error {
			_, err := s.Mirror(ctx, agent)
			return err
		})
}

// SpecFor builds the platform representation of an agent.
func SpecFor(agent *models.Agent) platform.AgentSpec {
	return platform.AgentSpec{
		Name:         agent.Name,
		Description:  agent.Description,
		Model:        agent.Config.Model,
		Temperature:  agent.Config.Temperature,
		Instructions: agent.Config.SystemPrompt,
		Tools:        agent.Config.Tools,
		Metadata: map[string]interface{}{
			"agent_id": agent.ID,
			"owner_id": agent.OwnerID,
		},
	}
}

// ── Helpers ─────────────────────────────────────────────────

func (s *Service) ownedAgent(ctx context.Context, callerID, agentID string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	if callerID == "" || agent.OwnerID != callerID {
		return nil, apperr.Forbidden("only the agent owner can modify it")
	}
	return agent, nil
}

func validateAgent(name, description string, cfg models.AgentConfig) error {
	switch {
	case name == "":
		return apperr.Validation("name is required")
	case len(name) > maxNameLength:
		return apperr.Validation("name must be at most %d characters", maxNameLength)
	case len(description) > maxDescriptionLength:
		return apperr.Validation("description must be at most %d characters", maxDescriptionLength)
	case cfg.Temperature < 0 || cfg.Temperature > 2:
		return apperr.Validation("temperature must be between 0 and 2")
	}
	return nil
}

// storeErr maps store failures to the application taxonomy.
func storeErr(msg string, err error) error {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return apperr.NotFound(nf.Entity, nf.Key)
	}
	return apperr.Internal(msg, err)
}
