package openai

import (
	"testing"

	"github.com/MrWong99/novalive/pkg/provider/chat"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()
	c, err := New("sk-test", WithModel("gpt-test"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	params := c.buildParams(chat.Request{
		Text:    "next",
		History: []chat.Message{{Role: chat.RoleUser, Text: "hi"}, {Role: chat.RoleModel, Text: "hello"}},
	})
	if string(params.Model) != "gpt-test" {
		t.Errorf("model = %q", params.Model)
	}
	msgs := params.Messages
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfUser == nil {
		t.Errorf("message kinds = system %v, user %v, assistant %v, user %v",
			msgs[0].OfSystem != nil, msgs[1].OfUser != nil, msgs[2].OfAssistant != nil, msgs[3].OfUser != nil)
	}
	if got := msgs[2].OfAssistant.Content.OfString.Value; got != "hello" {
		t.Errorf("assistant content = %q", got)
	}
}
