package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/oklog/ulid/v2"
)

// backends returns a fresh instance of every store that runs without a server.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemoryStore("")
	t.Cleanup(func() { mem.Close() })

	lite, err := store.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "agentdesk.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	t.Cleanup(func() { lite.Close() })

	return map[string]store.Store{"memory": mem, "sqlite": lite}
}

func eachBackend(t *testing.T, fn func(t *testing.T, s store.Store)) {
	for name, s := range backends(t) {
		s := s
		t.Run(name, func(t *testing.T) { fn(t, s) })
	}
}

func isNotFound(err error) bool {
	var nf *store.ErrNotFound
	return errors.As(err, &nf)
}

// ─── Agents ──────────────────────────────────────────────────

func TestCreateAndGetAgent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()

		agent := &models.Agent{
			OwnerID: "alice",
			Name:    "support-bot",
			Config:  models.AgentConfig{Model: "gpt-4o", Tools: []string{"search"}},
		}
		if err := s.CreateAgent(ctx, agent); err != nil {
			t.Fatalf("CreateAgent() error = %v", err)
		}
		if agent.ID == "" {
			t.Fatal("CreateAgent() did not assign an ID")
		}

		got, err := s.GetAgent(ctx, agent.ID)
		if err != nil {
			t.Fatalf("GetAgent() error = %v", err)
		}
		if got.Name != "support-bot" {
			t.Errorf("GetAgent().Name = %q, want %q", got.Name, "support-bot")
		}
		if got.Config.Model != "gpt-4o" || len(got.Config.Tools) != 1 {
			t.Errorf("GetAgent().Config = %+v", got.Config)
		}
		if got.Mirrored() {
			t.Error("new agent should not be mirrored")
		}
	})
}

func TestGetAgent_NotFound(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		_, err := s.GetAgent(context.Background(), "nope")
		if !isNotFound(err) {
			t.Fatalf("GetAgent() error = %v, want ErrNotFound", err)
		}
	})
}

func TestCreateAgent_Conflict(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		if err := s.CreateAgent(ctx, &models.Agent{ID: "dup", OwnerID: "alice", Name: "a"}); err != nil {
			t.Fatalf("CreateAgent() error = %v", err)
		}
		err := s.CreateAgent(ctx, &models.Agent{ID: "dup", OwnerID: "bob", Name: "b"})
		var conflict *store.ErrConflict
		if !errors.As(err, &conflict) {
			t.Fatalf("second CreateAgent() error = %v, want ErrConflict", err)
		}
	})
}

func TestListAgentsByOwnerAndPublic(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour)
		agents := []*models.Agent{
			{OwnerID: "alice", Name: "a1", Public: true, CreatedAt: base},
			{OwnerID: "alice", Name: "a2", CreatedAt: base.Add(time.Minute)},
			{OwnerID: "bob", Name: "b1", Public: true, CreatedAt: base.Add(2 * time.Minute)},
		}
		for _, a := range agents {
			if err := s.CreateAgent(ctx, a); err != nil {
				t.Fatalf("CreateAgent(%s) error = %v", a.Name, err)
			}
		}

		mine, err := s.ListAgentsByOwner(ctx, "alice")
		if err != nil {
			t.Fatalf("ListAgentsByOwner() error = %v", err)
		}
		if len(mine) != 2 || mine[0].Name != "a1" || mine[1].Name != "a2" {
			t.Errorf("ListAgentsByOwner() = %v", mine)
		}

		public, err := s.ListPublicAgents(ctx)
		if err != nil {
			t.Fatalf("ListPublicAgents() error = %v", err)
		}
		if len(public) != 2 {
			t.Errorf("ListPublicAgents() returned %d, want 2", len(public))
		}
	})
}

func TestSetAgentExternalRef_PatchesOnlyRef(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		agent := &models.Agent{OwnerID: "alice", Name: "old", Config: models.AgentConfig{Model: "m1"}}
		if err := s.CreateAgent(ctx, agent); err != nil {
			t.Fatalf("CreateAgent() error = %v", err)
		}

		// A concurrent edit lands before the mirror finishes.
		edited := *agent
		edited.Name = "new"
		edited.Config.Model = "m2"
		if err := s.UpdateAgent(ctx, &edited); err != nil {
			t.Fatalf("UpdateAgent() error = %v", err)
		}

		if err := s.SetAgentExternalRef(ctx, agent.ID, "ext-1"); err != nil {
			t.Fatalf("SetAgentExternalRef() error = %v", err)
		}

		got, _ := s.GetAgent(ctx, agent.ID)
		if got.Config.ExternalRef != "ext-1" {
			t.Errorf("ExternalRef = %q, want ext-1", got.Config.ExternalRef)
		}
		if got.Name != "new" || got.Config.Model != "m2" {
			t.Errorf("SetAgentExternalRef() clobbered the edit: name=%q model=%q", got.Name, got.Config.Model)
		}

		if err := s.SetAgentExternalRef(ctx, "missing", "x"); !isNotFound(err) {
			t.Errorf("SetAgentExternalRef(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestListUnmirroredAgents(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour)
		for i, name := range []string{"u1", "m1", "u2", "u3"} {
			a := &models.Agent{ID: "id-" + name, OwnerID: "alice", Name: name, CreatedAt: base.Add(-time.Duration(i) * time.Second)}
			if name == "m1" {
				a.Config.ExternalRef = "ext-m1"
			}
			if err := s.CreateAgent(ctx, a); err != nil {
				t.Fatalf("CreateAgent() error = %v", err)
			}
		}

		got, err := s.ListUnmirroredAgents(ctx, "", 2)
		if err != nil {
			t.Fatalf("ListUnmirroredAgents() error = %v", err)
		}
		if len(got) != 2 || got[0].Name != "u1" || got[1].Name != "u2" {
			t.Errorf("ListUnmirroredAgents(\"\", 2) = %v, want [u1 u2]", got)
		}

		next, err := s.ListUnmirroredAgents(ctx, got[1].ID, 2)
		if err != nil {
			t.Fatalf("ListUnmirroredAgents() error = %v", err)
		}
		if len(next) != 1 || next[0].Name != "u3" {
			t.Errorf("ListUnmirroredAgents(%q, 2) = %v, want [u3]", got[1].ID, next)
		}
	})
}

func TestDeleteAgent(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		agent := &models.Agent{OwnerID: "alice", Name: "gone"}
		s.CreateAgent(ctx, agent)

		if err := s.DeleteAgent(ctx, agent.ID); err != nil {
			t.Fatalf("DeleteAgent() error = %v", err)
		}
		if _, err := s.GetAgent(ctx, agent.ID); !isNotFound(err) {
			t.Errorf("GetAgent() after delete error = %v, want ErrNotFound", err)
		}
		if err := s.DeleteAgent(ctx, agent.ID); !isNotFound(err) {
			t.Errorf("second DeleteAgent() error = %v, want ErrNotFound", err)
		}
	})
}

// ─── Knowledge ───────────────────────────────────────────────

func TestKnowledgeLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		items := []*models.KnowledgeItem{
			{AgentID: "a1", ContentType: models.ContentText, Content: "refund policy"},
			{AgentID: "a1", ContentType: models.ContentURL, Content: "https://example.com/faq"},
			{AgentID: "a2", ContentType: models.ContentFile, Content: "https://blobs/x.pdf", FileName: "x.pdf",
				Metadata: map[string]interface{}{"mime_type": "application/pdf"}},
		}
		for _, k := range items {
			if err := s.CreateKnowledge(ctx, k); err != nil {
				t.Fatalf("CreateKnowledge() error = %v", err)
			}
		}

		got, err := s.GetKnowledge(ctx, items[2].ID)
		if err != nil {
			t.Fatalf("GetKnowledge() error = %v", err)
		}
		if got.FileName != "x.pdf" || got.Metadata["mime_type"] != "application/pdf" {
			t.Errorf("GetKnowledge() = %+v", got)
		}

		list, _ := s.ListKnowledge(ctx, "a1")
		if len(list) != 2 {
			t.Errorf("ListKnowledge(a1) returned %d, want 2", len(list))
		}

		n, err := s.DeleteKnowledgeByAgent(ctx, "a1")
		if err != nil {
			t.Fatalf("DeleteKnowledgeByAgent() error = %v", err)
		}
		if n != 2 {
			t.Errorf("DeleteKnowledgeByAgent() = %d, want 2", n)
		}

		if err := s.DeleteKnowledge(ctx, items[2].ID); err != nil {
			t.Fatalf("DeleteKnowledge() error = %v", err)
		}
		if err := s.DeleteKnowledge(ctx, items[2].ID); !isNotFound(err) {
			t.Errorf("second DeleteKnowledge() error = %v, want ErrNotFound", err)
		}
	})
}

// ─── Conversations & Messages ────────────────────────────────

func TestConversationAndMessages(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		conv := &models.Conversation{ID: "c1", AgentID: "a1", CallerID: "alice"}
		if err := s.CreateConversation(ctx, conv); err != nil {
			t.Fatalf("CreateConversation() error = %v", err)
		}
		if err := s.SetConversationThread(ctx, "c1", "thread-9"); err != nil {
			t.Fatalf("SetConversationThread() error = %v", err)
		}

		got, err := s.GetConversation(ctx, "c1")
		if err != nil {
			t.Fatalf("GetConversation() error = %v", err)
		}
		if got.ThreadID != "thread-9" || got.CallerID != "alice" {
			t.Errorf("GetConversation() = %+v", got)
		}

		first := ulid.Make().String()
		second := ulid.Make().String()
		// Appended out of order; listing follows id order.
		for _, m := range []*models.Message{
			{ID: second, ConversationID: "c1", Role: models.RoleAI, Content: "hi there"},
			{ID: first, ConversationID: "c1", Role: models.RoleHuman, Content: "hello"},
		} {
			if err := s.AppendMessage(ctx, m); err != nil {
				t.Fatalf("AppendMessage() error = %v", err)
			}
		}

		msgs, err := s.ListMessages(ctx, "c1")
		if err != nil {
			t.Fatalf("ListMessages() error = %v", err)
		}
		if len(msgs) != 2 || msgs[0].ID != first || msgs[1].Role != models.RoleAI {
			t.Errorf("ListMessages() = %+v", msgs)
		}

		err = s.AppendMessage(ctx, &models.Message{ID: ulid.Make().String(), ConversationID: "missing", Role: models.RoleHuman, Content: "x"})
		if !isNotFound(err) {
			t.Errorf("AppendMessage(missing conversation) error = %v, want ErrNotFound", err)
		}
	})
}

func TestListConversations_NewestFirst(t *testing.T) {
	eachBackend(t, func(t *testing.T, s store.Store) {
		ctx := context.Background()
		base := time.Now().UTC().Add(-time.Hour)
		for i, id := range []string{"old", "mid", "new"} {
			s.CreateConversation(ctx, &models.Conversation{ID: id, AgentID: "a1", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		}
		s.CreateConversation(ctx, &models.Conversation{ID: "other", AgentID: "a2"})

		got, err := s.ListConversations(ctx, "a1", 2)
		if err != nil {
			t.Fatalf("ListConversations() error = %v", err)
		}
		if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
			t.Errorf("ListConversations() = %v, want [new mid]", got)
		}
	})
}

// ─── Snapshot ────────────────────────────────────────────────

func TestMemoryStore_SnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	ctx := context.Background()

	s1 := store.NewMemoryStore(path)
	agent := &models.Agent{OwnerID: "alice", Name: "persisted"}
	if err := s1.CreateAgent(ctx, agent); err != nil {
		t.Fatalf("CreateAgent() error = %v", err)
	}
	s1.Close() // forces a final flush

	s2 := store.NewMemoryStore(path)
	defer s2.Close()

	got, err := s2.GetAgent(ctx, agent.ID)
	if err != nil {
		t.Fatalf("GetAgent() after reload error = %v", err)
	}
	if got.Name != "persisted" {
		t.Errorf("reloaded Name = %q, want persisted", got.Name)
	}
}

func TestOpen_Schemes(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, configFor("memory"))
	if err != nil {
		t.Fatalf("Open(memory) error = %v", err)
	}
	s.Close()

	s, err = store.Open(ctx, configFor("sqlite:"+filepath.Join(t.TempDir(), "x.db")))
	if err != nil {
		t.Fatalf("Open(sqlite) error = %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	s.Close()

	if _, err := store.Open(ctx, configFor("mysql://nope")); err == nil {
		t.Error("Open(mysql) should fail")
	}
}
