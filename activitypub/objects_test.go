package activitypub

import (
	"testing"

	"github.com/gomphos/gomphos/domain"
)

func TestParseNoteAddressing(t *testing.T) {
	raw := []byte(`{
		"id": "https://remote.example/statuses/1",
		"type": "Note",
		"content": "hi",
		"to": "https://www.w3.org/ns/activitystreams#Public",
		"cc": ["https://remote.example/users/alice/followers"]
	}`)

	note, err := ParseNote(raw)
	if err != nil {
		t.Fatalf("ParseNote failed: %v", err)
	}
	if got := note.Visibility(""); got != domain.VisibilityPublic {
		t.Errorf("Expected public, got %s", got)
	}
}

func TestVisibilityDerivation(t *testing.T) {
	followers := "https://remote.example/users/alice/followers"

	cases := []struct {
		name string
		to   stringList
		cc   stringList
		want domain.Visibility
	}{
		{"public in to", stringList{publicCollection}, nil, domain.VisibilityPublic},
		{"public in cc", stringList{followers}, stringList{publicCollection}, domain.VisibilityUnlisted},
		{"followers only", stringList{followers}, nil, domain.VisibilityPrivate},
		{"nobody", nil, nil, domain.VisibilityDirect},
	}

	for _, tc := range cases {
		note := &NoteDoc{To: tc.to, Cc: tc.cc}
		if got := note.Visibility(followers); got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestNoteTagExtraction(t *testing.T) {
	note := &NoteDoc{
		Tag: []TagDoc{
			{Type: "Hashtag", Name: "#Golang"},
			{Type: "Hashtag", Name: "#"},
			{Type: "Mention", Href: "https://remote.example/users/bob"},
			{Type: "Emoji", Name: ":blobcat:"},
		},
	}

	tags := note.Hashtags()
	if len(tags) != 1 || tags[0] != "golang" {
		t.Errorf("Expected [golang], got %v", tags)
	}

	mentions := note.Mentions()
	if len(mentions) != 1 || mentions[0] != "https://remote.example/users/bob" {
		t.Errorf("Unexpected mentions: %v", mentions)
	}

	if len(note.Emojis()) != 1 {
		t.Errorf("Expected one emoji tag")
	}
}

func TestPollOptions(t *testing.T) {
	one := ChoiceDoc{Name: "tea"}
	one.Replies.TotalItems = 4
	two := ChoiceDoc{Name: "coffee"}
	two.Replies.TotalItems = 6

	single := &NoteDoc{Type: "Question", OneOf: []ChoiceDoc{one, two}}
	options, tallies, multiple := single.PollOptions()
	if multiple {
		t.Error("oneOf means single choice")
	}
	if len(options) != 2 || tallies[1] != 6 {
		t.Errorf("Unexpected options %v tallies %v", options, tallies)
	}

	multi := &NoteDoc{Type: "Question", AnyOf: []ChoiceDoc{one, two}}
	if _, _, multiple := multi.PollOptions(); !multiple {
		t.Error("anyOf means multiple choice")
	}
}
