// Package knowledge validates and stores the knowledge items attached to an
// agent, mirroring each one to the agent's platform copy when it has one.
package knowledge

import (
	"context"
	"errors"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/agentoven/agentdesk/internal/blob"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
)

// MaxFileSize is the upload ceiling for file knowledge.
const MaxFileSize = 10 << 20

var allowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"text/plain":         true,
	"text/markdown":      true,
	"text/csv":           true,
	"application/json":   true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// AllowedMimeType reports whether files of mimeType may be uploaded.
func AllowedMimeType(mimeType string) bool {
	return allowedMimeTypes[normalizeMime(mimeType)]
}

type Service struct {
	store    store.Store
	platform platform.Client
	blobs    blob.Store
}

// NewService creates the service. platform and blobs may be nil; without a
// blob store file uploads are refused.
func NewService(s store.Store, p platform.Client, b blob.Store) *Service {
	return &Service{store: s, platform: p, blobs: b}
}

// Add validates in and inserts it for agentID. The platform mirror is only
// attempted when the agent is already mirrored, and its failure is logged.
func (s *Service) Add(ctx context.Context, callerID, agentID string, in models.KnowledgeInput) (*models.KnowledgeItem, error) {
	agent, err := s.ownedAgent(ctx, callerID, agentID)
	if err != nil {
		return nil, err
	}
	if err := validate(&in); err != nil {
		return nil, err
	}

	item := &models.KnowledgeItem{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		ContentType: in.ContentType,
		Content:     in.Content,
		FileName:    in.FileName,
		Metadata:    copyMetadata(in.Metadata),
		CreatedAt:   time.Now().UTC(),
	}

	var storagePath string
	if in.ContentType == models.ContentFile {
		if s.blobs == nil {
			return nil, apperr.Internal("file storage not configured", nil)
		}
		storagePath = blobPath(agentID, in.FileName, in.MimeType)
		publicURL, err := s.blobs.Upload(ctx, storagePath, in.Data, in.MimeType)
		if err != nil {
			return nil, apperr.Upstream("store file", err)
		}
		item.Content = publicURL
		item.Metadata[models.MetaStoragePath] = storagePath
		item.Metadata[models.MetaSize] = len(in.Data)
		item.Metadata[models.MetaMimeType] = in.MimeType
	}

	if err := s.store.CreateKnowledge(ctx, item); err != nil {
		if storagePath != "" {
			besteffort.Do(ctx, "blob.delete", besteffort.Fields{"agent_id": agentID, "path": storagePath}, func(ctx context.Context) error {
				return s.blobs.Delete(ctx, storagePath)
			})
		}
		return nil, apperr.Internal("create knowledge", err)
	}

	log.Info().
		Str("agent_id", agentID).
		Str("item_id", item.ID).
		Str("content_type", string(item.ContentType)).
		Msg("Knowledge added")

	if agent.Mirrored() && s.platform != nil {
		s.mirrorAdd(ctx, agent.Config.ExternalRef, item, in.MimeType)
	}
	return item, nil
}

func (s *Service) mirrorAdd(ctx context.Context, externalRef string, item *models.KnowledgeItem, mimeType string) {
	payload := platform.KnowledgePayload{
		ItemID:   item.ID,
		FileName: item.FileName,
		Metadata: item.Metadata,
	}
	fields := besteffort.Fields{"agent_id": item.AgentID, "item_id": item.ID, "external_ref": externalRef}

	besteffort.Do(ctx, "platform.add_knowledge", fields, func(ctx context.Context) error {
		switch item.ContentType {
		case models.ContentURL:
			payload.URL = item.Content
			return s.platform.AddURLKnowledge(ctx, externalRef, payload)
		case models.ContentFile:
			payload.URL = item.Content
			payload.MimeType = mimeType
			return s.platform.AddFileKnowledge(ctx, externalRef, payload)
		default:
			payload.Content = item.Content
			return s.platform.AddTextKnowledge(ctx, externalRef, payload)
		}
	})
}

// Delete removes one item. Blob and mirror cleanup are best-effort.
func (s *Service) Delete(ctx context.Context, callerID, agentID, itemID string) error {
	agent, err := s.ownedAgent(ctx, callerID, agentID)
	if err != nil {
		return err
	}

	item, err := s.store.GetKnowledge(ctx, itemID)
	if err != nil {
		return storeErr("get knowledge", err)
	}
	if item.AgentID != agentID {
		return apperr.NotFound("knowledge", itemID)
	}
	if err := s.store.DeleteKnowledge(ctx, itemID); err != nil {
		return storeErr("delete knowledge", err)
	}

	log.Info().Str("agent_id", agentID).Str("item_id", itemID).Msg("Knowledge deleted")

	if path := item.StoragePath(); path != "" && s.blobs != nil {
		besteffort.Do(ctx, "blob.delete", besteffort.Fields{"agent_id": agentID, "item_id": itemID}, func(ctx context.Context) error {
			return s.blobs.Delete(ctx, path)
		})
	}
	if agent.Mirrored() && s.platform != nil {
		besteffort.Do(ctx, "platform.delete_knowledge", besteffort.Fields{"agent_id": agentID, "item_id": itemID},
			func(ctx context.Context) error {
				return s.platform.DeleteKnowledge(ctx, agent.Config.ExternalRef, itemID)
			})
	}
	return nil
}

// List returns the agent's knowledge. Anyone may read a public agent's items.
func (s *Service) List(ctx context.Context, callerID, agentID string) ([]models.KnowledgeItem, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	if !agent.Public && agent.OwnerID != callerID {
		return nil, apperr.Forbidden("agent is private")
	}
	items, err := s.store.ListKnowledge(ctx, agentID)
	if err != nil {
		return nil, apperr.Internal("list knowledge", err)
	}
	return items, nil
}

// ── Validation ──────────────────────────────────────────────

// validate rejects bad input before anything is written. It normalizes the
// mime type of file submissions in place.
func validate(in *models.KnowledgeInput) error {
	if !in.ContentType.Valid() {
		return apperr.Validation("content type %q is not supported; use text, url or file", in.ContentType)
	}

	switch in.ContentType {
	case models.ContentText:
		if strings.TrimSpace(in.Content) == "" {
			return apperr.Validation("text content is required")
		}
	case models.ContentURL:
		in.Content = strings.TrimSpace(in.Content)
		u, err := url.Parse(in.Content)
		if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return apperr.Validation("content must be an absolute http(s) URL")
		}
	case models.ContentFile:
		if len(in.Data) == 0 {
			return apperr.Validation("file is empty")
		}
		if len(in.Data) > MaxFileSize {
			return apperr.Validation("file exceeds the %d MiB limit", MaxFileSize>>20)
		}
		in.MimeType = normalizeMime(in.MimeType)
		if in.MimeType == "" || in.MimeType == "application/octet-stream" {
			in.MimeType = normalizeMime(mime.TypeByExtension(strings.ToLower(filepath.Ext(in.FileName))))
		}
		if !allowedMimeTypes[in.MimeType] {
			return apperr.Validation("file type %q is not allowed", in.MimeType)
		}
		in.FileName = filepath.Base(in.FileName)
		if in.FileName == "." || in.FileName == "/" {
			in.FileName = ""
		}
	}
	return nil
}

func normalizeMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mimeType))
	}
	return mediaType
}

// blobPath is <agentID>/<ULID><ext>; the ULID carries the upload time.
func blobPath(agentID, fileName, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		if exts, _ := mime.ExtensionsByType(mimeType); len(exts) > 0 {
			ext = exts[0]
		}
	}
	return agentID + "/" + ulid.Make().String() + ext
}

// copyMetadata copies submitted metadata, dropping the keys the service
// owns.
func copyMetadata(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in)+3)
	for k, v := range in {
		switch k {
		case models.MetaStoragePath, models.MetaSize, models.MetaMimeType:
			continue
		}
		out[k] = v
	}
	return out
}

// ── Helpers ─────────────────────────────────────────────────

func (s *Service) ownedAgent(ctx context.Context, callerID, agentID string) (*models.Agent, error) {
	agent, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		return nil, storeErr("get agent", err)
	}
	if callerID == "" || agent.OwnerID != callerID {
		return nil, apperr.Forbidden("only the agent owner can change its knowledge")
	}
	return agent, nil
}

func storeErr(msg string, err error) error {
	var nf *store.ErrNotFound
	if errors.As(err, &nf) {
		return apperr.NotFound(nf.Entity, nf.Key)
	}
	return apperr.Internal(msg, err)
}
