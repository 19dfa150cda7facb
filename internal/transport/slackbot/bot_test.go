package slackbot

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAsker struct {
	mu       sync.Mutex
	answer   *cyibot.Answer
	err      error
	resetErr error
	asked    []string
	resets   []string
}

func (a *fakeAsker) Ask(ctx context.Context, sessionID, question string) (*cyibot.Answer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.asked = append(a.asked, sessionID+"|"+question)
	return a.answer, a.err
}

func (a *fakeAsker) Reset(ctx context.Context, sessionID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resets = append(a.resets, sessionID)
	return a.resetErr
}

type post struct {
	channel  string
	text     string
	threadTS string
}

type fakePoster struct {
	mu    sync.Mutex
	posts []post
	err   error
}

func (p *fakePoster) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	_, values, err := slack.UnsafeApplyMsgOptions("token", channelID, "https://slack.test/api/", options...)
	if err != nil {
		return "", "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posts = append(p.posts, post{channel: channelID, text: values.Get("text"), threadTS: values.Get("thread_ts")})
	return channelID, "1700000000.000100", p.err
}

type fakeAcker struct {
	acked int
}

func (a *fakeAcker) Ack(req socketmode.Request, payload ...interface{}) {
	a.acked++
}

func TestHandleMessage_AnswersInChannel(t *testing.T) {
	asker := &fakeAsker{answer: &cyibot.Answer{Text: "The SLI 2024 survey praised the mentors."}}
	poster := &fakePoster{}
	bot := New(asker, poster, WithBotUserID("UBOT"))

	err := bot.HandleMessage(context.Background(), Message{
		Channel: "C1", User: "U1", Text: "<@UBOT> What was the major feedback from SLI 2024?", TS: "1.0",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"C1|What was the major feedback from SLI 2024?"}, asker.asked)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, post{channel: "C1", text: "The SLI 2024 survey praised the mentors."}, poster.posts[0])
}

func TestHandleMessage_ThreadIsItsOwnSession(t *testing.T) {
	asker := &fakeAsker{answer: &cyibot.Answer{Text: "2022 feedback..."}}
	poster := &fakePoster{}
	bot := New(asker, poster)

	require.NoError(t, bot.HandleMessage(context.Background(), Message{
		Channel: "C1", User: "U1", Text: "What about 2022?", TS: "2.0", ThreadTS: "1.0",
	}))
	assert.Equal(t, []string{"C1:1.0|What about 2022?"}, asker.asked)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, "1.0", poster.posts[0].threadTS)
}

func TestHandleMessage_Ignored(t *testing.T) {
	tests := map[string]Message{
		"bot message":  {Channel: "C1", BotID: "B1", Text: "hello"},
		"own message":  {Channel: "C1", User: "UBOT", Text: "hello"},
		"edit":         {Channel: "C1", User: "U1", SubType: "message_changed", Text: "hello"},
		"mention only": {Channel: "C1", User: "U1", Text: "<@UBOT>"},
	}
	for name, msg := range tests {
		t.Run(name, func(t *testing.T) {
			asker := &fakeAsker{answer: &cyibot.Answer{Text: "x"}}
			poster := &fakePoster{}
			require.NoError(t, New(asker, poster, WithBotUserID("UBOT")).HandleMessage(context.Background(), msg))
			assert.Empty(t, asker.asked)
			assert.Empty(t, poster.posts)
		})
	}
}

func TestHandleMessage_FailureRepliesWithoutInternals(t *testing.T) {
	cause := cyibot.NewQueryError("directory query failed", errors.New("no such table: Alumni"))
	asker := &fakeAsker{answer: &cyibot.Answer{Text: cyibot.UserMessage(cause), State: cyibot.StateFailed}, err: cause}
	poster := &fakePoster{}

	require.NoError(t, New(asker, poster).HandleMessage(context.Background(), Message{Channel: "C1", User: "U1", Text: "list staff"}))
	require.Len(t, poster.posts, 1)
	assert.Equal(t, cyibot.UserMessage(cause), poster.posts[0].text)
	assert.NotContains(t, poster.posts[0].text, "no such table")
}

func TestHandleMessage_FailureWithoutAnswer(t *testing.T) {
	asker := &fakeAsker{err: errors.New("panic recovered")}
	poster := &fakePoster{}

	require.NoError(t, New(asker, poster).HandleMessage(context.Background(), Message{Channel: "C1", User: "U1", Text: "hi"}))
	require.Len(t, poster.posts, 1)
	assert.Equal(t, cyibot.UserMessage(asker.err), poster.posts[0].text)
}

func TestHandleMessage_Reset(t *testing.T) {
	asker := &fakeAsker{}
	poster := &fakePoster{}
	bot := New(asker, poster)

	require.NoError(t, bot.HandleMessage(context.Background(), Message{Channel: "C9", User: "U1", Text: "<@UBOT> reset"}))
	assert.Equal(t, []string{"C9"}, asker.resets)
	assert.Empty(t, asker.asked)
	require.Len(t, poster.posts, 1)
	assert.Equal(t, resetReply, poster.posts[0].text)
}

func TestHandleMessage_PostFailure(t *testing.T) {
	asker := &fakeAsker{answer: &cyibot.Answer{Text: "x"}}
	poster := &fakePoster{err: errors.New("channel_not_found")}

	err := New(asker, poster).HandleMessage(context.Background(), Message{Channel: "C1", User: "U1", Text: "hi"})
	assert.Error(t, err)
}

func eventsAPI(data interface{}) socketmode.Event {
	return socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: "env-1"},
		Data: slackevents.EventsAPIEvent{
			Type:       slackevents.CallbackEvent,
			InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
		},
	}
}

func TestHandleEvent(t *testing.T) {
	message := &slackevents.MessageEvent{Channel: "C1", ChannelType: "channel", User: "U1", Text: "Alumni for SLI", TimeStamp: "1.0"}
	appMention := &slackevents.AppMentionEvent{Channel: "C1", User: "U1", Text: "<@UBOT> Alumni for SLI", TimeStamp: "1.0"}

	t.Run("every message by default", func(t *testing.T) {
		asker := &fakeAsker{answer: &cyibot.Answer{Text: "ok"}}
		acker := &fakeAcker{}
		bot := New(asker, &fakePoster{})

		bot.HandleEvent(context.Background(), acker, eventsAPI(message))
		bot.HandleEvent(context.Background(), acker, eventsAPI(appMention))
		bot.wg.Wait()

		assert.Equal(t, 2, acker.acked)
		assert.Equal(t, []string{"C1|Alumni for SLI"}, asker.asked)
	})

	t.Run("mentions only", func(t *testing.T) {
		asker := &fakeAsker{answer: &cyibot.Answer{Text: "ok"}}
		bot := New(asker, &fakePoster{}, WithMentionsOnly(true))

		bot.HandleEvent(context.Background(), &fakeAcker{}, eventsAPI(message))
		bot.HandleEvent(context.Background(), &fakeAcker{}, eventsAPI(appMention))
		bot.HandleEvent(context.Background(), &fakeAcker{}, eventsAPI(&slackevents.MessageEvent{
			Channel: "D1", ChannelType: "im", User: "U1", Text: "Who are the staff?",
		}))
		bot.wg.Wait()

		assert.ElementsMatch(t, []string{"C1|Alumni for SLI", "D1|Who are the staff?"}, asker.asked)
	})

	t.Run("connection events are not acked", func(t *testing.T) {
		acker := &fakeAcker{}
		New(&fakeAsker{}, &fakePoster{}).HandleEvent(context.Background(), acker, socketmode.Event{Type: socketmode.EventTypeConnected})
		assert.Zero(t, acker.acked)
	})
}
