package trigger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

const self = int64(1000)

type fakeReplies map[int]int64

func (f fakeReplies) ReplyAuthor(_ context.Context, _ int64, id int) (int64, bool) {
	a, ok := f[id]
	return a, ok
}

func TestClassify(t *testing.T) {
	c := Classifier{SelfID: self, Username: "Alice", Replies: fakeReplies{7: self, 8: 55}}
	group := Message{ID: 1, ChatID: -100, Chat: ChatGroup, SenderID: 2}

	withText := func(m Message, s string) Message { m.Text = s; return m }
	withReply := func(m Message, r ReplyRef) Message { m.ReplyTo = &r; return m }

	cases := []struct {
		name string
		msg  Message
		want Category
	}{
		{"private chat", Message{Chat: ChatPrivate, SenderID: 2, Text: "hi"}, DM},
		{"service message", Message{Chat: ChatPrivate, SenderID: 2, Service: true}, None},
		{"self authored", Message{Chat: ChatPrivate, SenderID: self}, None},
		{"bot authored", Message{Chat: ChatPrivate, SenderID: 3, SenderIsBot: true}, None},
		{"mention text", withText(group, "ping @alice please"), Mention},
		{"mention case", withText(group, "@ALICE"), Mention},
		{"mention prefix only", withText(group, "@alice_bot ping"), None},
		{"mention entity", Message{Chat: ChatGroup, SenderID: 2, MentionIDs: []int64{9, self}}, Mention},
		{"reply known author", withReply(group, ReplyRef{MessageID: 3, AuthorID: self}), Reply},
		{"reply resolved", withReply(group, ReplyRef{MessageID: 7}), Reply},
		{"reply to other", withReply(group, ReplyRef{MessageID: 8}), None},
		{"reply unresolvable", withReply(group, ReplyRef{MessageID: 99}), None},
		{"plain group text", withText(group, "hello"), None},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := c.Classify(context.Background(), tc.msg)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want != None, ok)
		})
	}
}

func TestMentionBeatsReply(t *testing.T) {
	c := Classifier{SelfID: self, Username: "alice"}
	m := Message{Chat: ChatGroup, SenderID: 2, Text: "@alice", ReplyTo: &ReplyRef{MessageID: 1, AuthorID: self}}
	got, _ := c.Classify(context.Background(), m)
	assert.Equal(t, Mention, got)
}

func TestNoUsernameSkipsTextMatch(t *testing.T) {
	c := Classifier{SelfID: self}
	_, ok := c.Classify(context.Background(), Message{Chat: ChatGroup, SenderID: 2, Text: "@ anyone"})
	assert.False(t, ok)
}
