package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"prionotify/internal/trigger"
)

var at = time.Date(2026, 6, 1, 22, 30, 0, 0, time.UTC)

func TestRenderDM(t *testing.T) {
	r := Renderer{Offset: func() float64 { return 2 }}
	got := r.Render(Source{
		Category:  trigger.DM,
		Chat:      &Chat{ID: 42, Type: ChatPrivate, FirstName: "Bob"},
		Sender:    &Sender{FirstName: "Bob", LastName: "<Smith>"},
		MessageID: 5,
		Text:      "a & b",
		SentAt:    at,
	})
	want := "🔔 <b>Bob &lt;Smith&gt;</b>\n   a &amp; b\n\n   00:30 • <a href=\"tg://user?id=42\">View →</a>"
	assert.Equal(t, want, got)
}

func TestRenderDMMedia(t *testing.T) {
	got := Renderer{}.Render(Source{
		Category: trigger.DM,
		Chat:     &Chat{ID: 42, Type: ChatPrivate, Username: "bob"},
		Sender:   &Sender{FirstName: "Bob"},
		Text:     "caption ignored",
		HasMedia: true,
		SentAt:   at,
	})
	assert.Equal(t, "🔔 <b>Bob</b>\n\n22:30 • <a href=\"https://t.me/bob\">View →</a>", got)
}

func TestRenderGroup(t *testing.T) {
	got := Renderer{Offset: func() float64 { return -5.5 }}.Render(Source{
		Category:  trigger.Mention,
		Chat:      &Chat{ID: -1001234567, Type: ChatSupergroup, Title: "Ops"},
		Sender:    &Sender{FirstName: "Eve"},
		MessageID: 9,
		Text:      "@me look",
		SentAt:    at,
	})
	want := "💬 <b>Ops</b>\nEve: @me look\n\n17:00 • <a href=\"https://t.me/c/1234567/9\">View group →</a>"
	assert.Equal(t, want, got)
}

func TestRenderGroupEmptyText(t *testing.T) {
	got := Renderer{}.Render(Source{Category: trigger.Reply, Chat: &Chat{ID: -77, Type: ChatGroup, Title: "G"}, SentAt: at})
	assert.True(t, strings.HasPrefix(got, "💬 <b>G</b>\nUnknown: [No content]\n\n"))
	assert.Contains(t, got, "tg://openmessage?chat_id=77&message_id=0")
}

func TestPreview(t *testing.T) {
	long := strings.Repeat("é", 250)
	p := Preview(long, false)
	assert.Equal(t, 203, len([]rune(p)))
	assert.True(t, strings.HasSuffix(p, "..."))
	assert.Equal(t, "[No content]", Preview("", false))
	assert.Equal(t, "", Preview("", true))
	assert.Equal(t, "short", Preview("short", false))
}

func TestDeepLink(t *testing.T) {
	cases := []struct {
		chat *Chat
		want string
	}{
		{nil, fallbackLink},
		{&Chat{ID: 1, Type: ChatPrivate}, "tg://user?id=1"},
		{&Chat{ID: -1009, Type: ChatChannel, Username: "news"}, "https://t.me/news/3"},
		{&Chat{ID: -100555, Type: ChatChannel}, "https://t.me/c/555/3"},
		{&Chat{ID: 5, Type: "unknown"}, fallbackLink},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DeepLink(tc.chat, 3))
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "Unknown Chat", ChatName(nil))
	assert.Equal(t, "@grp", ChatName(&Chat{Username: "grp"}))
	assert.Equal(t, "Ann Lee", ChatName(&Chat{FirstName: "Ann", LastName: "Lee"}))
	assert.Equal(t, "Chan", SenderName(&Sender{Title: "Chan"}))
	assert.Equal(t, "Unknown", SenderName(&Sender{}))
}
