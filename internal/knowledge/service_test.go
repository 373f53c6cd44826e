package knowledge_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentoven/agentdesk/internal/apperr"
	"github.com/agentoven/agentdesk/internal/blob"
	"github.com/agentoven/agentdesk/internal/knowledge"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/internal/testutil"
	"github.com/agentoven/agentdesk/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingBlobs wraps a blob store and counts uploads.
type countingBlobs struct {
	blob.Store
	uploads int
	deletes int
}

func (c *countingBlobs) Upload(ctx context.Context, path string, data []byte, contentType string) (string, error) {
	c.uploads++
	return c.Store.Upload(ctx, path, data, contentType)
}

func (c *countingBlobs) Delete(ctx context.Context, path string) error {
	c.deletes++
	return c.Store.Delete(ctx, path)
}

type fixture struct {
	svc      *knowledge.Service
	store    *store.MemoryStore
	platform *testutil.FakePlatform
	blobs    *countingBlobs
	dir      string
	agent    *models.Agent
}

func newFixture(t *testing.T, externalRef string) *fixture {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	dir := t.TempDir()
	local, err := blob.NewLocalStore(dir, "http://localhost:8080/blobs")
	require.NoError(t, err)
	blobs := &countingBlobs{Store: local}

	agent := &models.Agent{OwnerID: "user-1", Name: "Helper", Config: models.AgentConfig{ExternalRef: externalRef}}
	require.NoError(t, s.CreateAgent(context.Background(), agent))

	p := testutil.NewFakePlatform()
	return &fixture{
		svc:      knowledge.NewService(s, p, blobs),
		store:    s,
		platform: p,
		blobs:    blobs,
		dir:      dir,
		agent:    agent,
	}
}

func TestAdd_TextRoundTrip(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	item, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentText,
		Content:     "The office opens at 9am.",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)

	items, err := f.svc.List(ctx, "user-1", f.agent.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.ContentText, items[0].ContentType)
	assert.Equal(t, "The office opens at 9am.", items[0].Content)

	// Not mirrored, so the platform is never called.
	assert.Zero(t, f.platform.Calls("add_knowledge"))
}

func TestAdd_RejectsUnknownTypeWithoutWrite(t *testing.T) {
	f := newFixture(t, "ext-9")
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: "spreadsheet",
		Content:     "a,b,c",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	items, _ := f.store.ListKnowledge(ctx, f.agent.ID)
	assert.Empty(t, items)
	assert.Zero(t, f.platform.Calls("add_knowledge"))
}

func TestAdd_RejectsOversizedFileBeforeUpload(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentFile,
		FileName:    "big.pdf",
		MimeType:    "application/pdf",
		Data:        bytes.Repeat([]byte{'a'}, 11<<20),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Zero(t, f.blobs.uploads)

	items, _ := f.store.ListKnowledge(ctx, f.agent.ID)
	assert.Empty(t, items)
}

func TestAdd_Validation(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	cases := map[string]models.KnowledgeInput{
		"empty text":      {ContentType: models.ContentText, Content: "   "},
		"relative url":    {ContentType: models.ContentURL, Content: "/docs/page"},
		"ftp url":         {ContentType: models.ContentURL, Content: "ftp://example.com/file"},
		"empty file":      {ContentType: models.ContentFile, FileName: "a.pdf", MimeType: "application/pdf"},
		"disallowed mime": {ContentType: models.ContentFile, FileName: "a.exe", MimeType: "application/x-msdownload", Data: []byte("MZ")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Add(ctx, "user-1", f.agent.ID, in)
			assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
		})
	}

	assert.Zero(t, f.blobs.uploads)
	items, _ := f.store.ListKnowledge(ctx, f.agent.ID)
	assert.Empty(t, items)
}

func TestAdd_FileStoresURLNotBytes(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	item, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentFile,
		FileName:    "notes.md",
		MimeType:    "text/markdown; charset=utf-8",
		Data:        []byte("# Notes"),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(item.Content, "http://localhost:8080/blobs/"+f.agent.ID+"/"), item.Content)
	assert.True(t, strings.HasSuffix(item.Content, ".md"))
	assert.Equal(t, "text/markdown", item.Metadata["mime_type"])
	assert.Equal(t, 7, item.Metadata["size"])

	path := item.Metadata["storage_path"].(string)
	data, err := os.ReadFile(filepath.Join(f.dir, path))
	require.NoError(t, err)
	assert.Equal(t, "# Notes", string(data))
}

func TestAdd_FileMimeFromExtension(t *testing.T) {
	f := newFixture(t, "")

	item, err := f.svc.Add(context.Background(), "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentFile,
		FileName:    "report.pdf",
		Data:        []byte("%PDF-1.7"),
	})
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", item.Metadata["mime_type"])
}

func TestAdd_MirrorsWhenAgentMirrored(t *testing.T) {
	f := newFixture(t, "ext-1")
	ctx := context.Background()

	item, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentURL,
		Content:     "https://example.com/faq",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.platform.Calls("add_knowledge"))
	assert.Equal(t, []string{item.ID}, f.platform.Knowledge("ext-1"))
}

func TestAdd_MirrorFailureInvisible(t *testing.T) {
	f := newFixture(t, "ext-1")
	f.platform.Fail("add_knowledge", testutil.ErrInjected)
	ctx := context.Background()

	item, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentText,
		Content:     "hello",
	})
	require.NoError(t, err)

	stored, err := f.store.GetKnowledge(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", stored.Content)
}

func TestAdd_ForbiddenForNonOwner(t *testing.T) {
	f := newFixture(t, "")

	_, err := f.svc.Add(context.Background(), "user-2", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentText,
		Content:     "hello",
	})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.List(context.Background(), "user-2", f.agent.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestDelete_RemovesBlobAndMirror(t *testing.T) {
	f := newFixture(t, "ext-1")
	ctx := context.Background()

	item, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentFile,
		FileName:    "a.txt",
		MimeType:    "text/plain",
		Data:        []byte("abc"),
	})
	require.NoError(t, err)

	f.platform.Fail("delete_knowledge", testutil.ErrInjected)
	require.NoError(t, f.svc.Delete(ctx, "user-1", f.agent.ID, item.ID))

	_, err = f.store.GetKnowledge(ctx, item.ID)
	assert.Error(t, err)
	assert.Equal(t, 1, f.blobs.deletes)
	assert.Equal(t, 1, f.platform.Calls("delete_knowledge"))

	_, statErr := os.Stat(filepath.Join(f.dir, item.Metadata["storage_path"].(string)))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDelete_WrongAgentIsNotFound(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	other := &models.Agent{OwnerID: "user-1", Name: "Other"}
	require.NoError(t, f.store.CreateAgent(ctx, other))
	item, err := f.svc.Add(ctx, "user-1", other.ID, models.KnowledgeInput{ContentType: models.ContentText, Content: "x"})
	require.NoError(t, err)

	err = f.svc.Delete(ctx, "user-1", f.agent.ID, item.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDelete_ForgedStoragePathLeavesOtherBlobs(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	victimFile, err := f.svc.Add(ctx, "user-1", f.agent.ID, models.KnowledgeInput{
		ContentType: models.ContentFile,
		FileName:    "private.txt",
		MimeType:    "text/plain",
		Data:        []byte("payroll"),
	})
	require.NoError(t, err)
	victimPath := victimFile.StoragePath()
	require.NotEmpty(t, victimPath)

	attacker := &models.Agent{OwnerID: "user-2", Name: "Mine"}
	require.NoError(t, f.store.CreateAgent(ctx, attacker))
	forged, err := f.svc.Add(ctx, "user-2", attacker.ID, models.KnowledgeInput{
		ContentType: models.ContentText,
		Content:     "hello",
		Metadata:    map[string]interface{}{"storage_path": victimPath, "size": 1, "note": "kept"},
	})
	require.NoError(t, err)
	assert.NotContains(t, forged.Metadata, "storage_path")
	assert.NotContains(t, forged.Metadata, "size")
	assert.Equal(t, "kept", forged.Metadata["note"])

	require.NoError(t, f.svc.Delete(ctx, "user-2", attacker.ID, forged.ID))
	assert.Zero(t, f.blobs.deletes)

	_, statErr := os.Stat(filepath.Join(f.dir, victimPath))
	assert.NoError(t, statErr, "victim blob removed")
}

func TestAllowedMimeType(t *testing.T) {
	assert.True(t, knowledge.AllowedMimeType("application/pdf"))
	assert.True(t, knowledge.AllowedMimeType("text/plain; charset=utf-8"))
	assert.False(t, knowledge.AllowedMimeType("image/png"))
}
