package models_test

import (
	"testing"

	"github.com/agentoven/agentdesk/pkg/models"
)

func TestKnowledgeItem_StoragePath(t *testing.T) {
	tests := []struct {
		name string
		item models.KnowledgeItem
		want string
	}{
		{
			name: "own file",
			item: models.KnowledgeItem{AgentID: "a1", ContentType: models.ContentFile, Metadata: map[string]interface{}{"storage_path": "a1/x.txt"}},
			want: "a1/x.txt",
		},
		{
			name: "text item never owns a blob",
			item: models.KnowledgeItem{AgentID: "a1", ContentType: models.ContentText, Metadata: map[string]interface{}{"storage_path": "a1/x.txt"}},
		},
		{
			name: "other agent's prefix",
			item: models.KnowledgeItem{AgentID: "a1", ContentType: models.ContentFile, Metadata: map[string]interface{}{"storage_path": "a2/x.txt"}},
		},
		{
			name: "prefix sharing agent id",
			item: models.KnowledgeItem{AgentID: "a1", ContentType: models.ContentFile, Metadata: map[string]interface{}{"storage_path": "a10/x.txt"}},
		},
		{
			name: "traversal",
			item: models.KnowledgeItem{AgentID: "a1", ContentType: models.ContentFile, Metadata: map[string]interface{}{"storage_path": "a1/../a2/x.txt"}},
		},
		{
			name: "missing",
			item: models.KnowledgeItem{AgentID: "a1", ContentType: models.ContentFile},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.StoragePath(); got != tt.want {
				t.Errorf("StoragePath() = %q, want %q", got, tt.want)
			}
		})
	}
}
