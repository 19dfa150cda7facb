// Package slackbot answers Slack messages over Socket Mode.
package slackbot

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/ZanzyTHEbar/cyibot"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

// Asker answers questions within sessions. *cyibot.Router implements it.
type Asker interface {
	Ask(ctx context.Context, sessionID, question string) (*cyibot.Answer, error)
	Reset(ctx context.Context, sessionID string) error
}

// Poster sends chat messages. *slack.Client implements it.
type Poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Acker acknowledges Socket Mode requests. *socketmode.Client implements it.
type Acker interface {
	Ack(req socketmode.Request, payload ...interface{})
}

// Message is an incoming chat message.
type Message struct {
	Channel     string
	ChannelType string
	User        string
	BotID       string
	SubType     string
	Text        string
	TS          string
	ThreadTS    string
}

// SessionID keys conversation memory: one session per channel, and one
// per thread inside it.
func (m Message) SessionID() string {
	if m.ThreadTS != "" {
		return m.Channel + ":" + m.ThreadTS
	}
	return m.Channel
}

const resetReply = "Okay, I've forgotten our conversation. Ask me anything."

var (
	mention      = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>`)
	resetCommand = regexp.MustCompile(`(?i)^(reset|start over|new conversation)[.!]?$`)
)

// Bot relays chat messages to the router and posts its answers.
type Bot struct {
	asker        Asker
	poster       Poster
	logger       *zap.Logger
	botUserID    string
	mentionsOnly bool
	wg           sync.WaitGroup
}

// Option configures a Bot.
type Option func(*Bot)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *Bot) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBotUserID sets the bot's own user id so its messages are ignored.
func WithBotUserID(id string) Option {
	return func(b *Bot) {
		b.botUserID = id
	}
}

// WithMentionsOnly limits replies to mentions and direct messages. By
// default the bot answers every message in the channels it is in.
func WithMentionsOnly(on bool) Option {
	return func(b *Bot) {
		b.mentionsOnly = on
	}
}

// New creates a Bot.
func New(asker Asker, poster Poster, options ...Option) *Bot {
	b := &Bot{
		asker:  asker,
		poster: poster,
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Run processes Socket Mode events until ctx is done or the connection
// fails. In-flight messages are answered before Run returns.
func (b *Bot) Run(ctx context.Context, client *socketmode.Client) error {
	errc := make(chan error, 1)
	go func() {
		errc <- client.RunContext(ctx)
	}()
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errc:
			if ctx.Err() != nil {
				return nil
			}
			return err
		case evt, ok := <-client.Events:
			if !ok {
				return nil
			}
			b.HandleEvent(ctx, client, evt)
		}
	}
}

// HandleEvent acknowledges one Socket Mode event and answers the message
// it carries, if any, in the background.
func (b *Bot) HandleEvent(ctx context.Context, acker Acker, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		b.logger.Info("connecting to Slack")
	case socketmode.EventTypeConnected:
		b.logger.Info("connected to Slack")
	case socketmode.EventTypeConnectionError:
		b.logger.Warn("Slack connection error")
	case socketmode.EventTypeEventsAPI:
		if evt.Request != nil {
			acker.Ack(*evt.Request)
		}
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok || apiEvent.Type != slackevents.CallbackEvent {
			return
		}
		msg, ok := b.messageFrom(apiEvent.InnerEvent)
		if !ok {
			return
		}
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			if err := b.HandleMessage(ctx, msg); err != nil {
				b.logger.Error("failed to reply", zap.String("channel", msg.Channel), zap.Error(err))
			}
		}()
	}
}

func (b *Bot) messageFrom(inner slackevents.EventsAPIInnerEvent) (Message, bool) {
	switch ev := inner.Data.(type) {
	case *slackevents.MessageEvent:
		if b.mentionsOnly && ev.ChannelType != "im" {
			return Message{}, false
		}
		return Message{
			Channel:     ev.Channel,
			ChannelType: ev.ChannelType,
			User:        ev.User,
			BotID:       ev.BotID,
			SubType:     ev.SubType,
			Text:        ev.Text,
			TS:          ev.TimeStamp,
			ThreadTS:    ev.ThreadTimeStamp,
		}, true
	case *slackevents.AppMentionEvent:
		// Outside mentions-only mode the same text also arrives as a
		// message event.
		if !b.mentionsOnly {
			return Message{}, false
		}
		return Message{
			Channel:  ev.Channel,
			User:     ev.User,
			BotID:    ev.BotID,
			Text:     ev.Text,
			TS:       ev.TimeStamp,
			ThreadTS: ev.ThreadTimeStamp,
		}, true
	}
	return Message{}, false
}

// HandleMessage answers one message. Messages from bots, edits and other
// subtypes are ignored. The reply always carries text fit for the user,
// even when the turn failed.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) error {
	if msg.BotID != "" || msg.SubType != "" || (b.botUserID != "" && msg.User == b.botUserID) {
		return nil
	}
	question := strings.TrimSpace(mention.ReplaceAllString(msg.Text, ""))
	if question == "" {
		return nil
	}

	session := msg.SessionID()
	log := b.logger.With(zap.String("session_id", session), zap.String("user", msg.User))

	if resetCommand.MatchString(question) {
		text := resetReply
		if err := b.asker.Reset(ctx, session); err != nil {
			log.Error("session reset failed", zap.Error(err))
			text = cyibot.UserMessage(err)
		}
		return b.post(ctx, msg, text)
	}

	answer, err := b.asker.Ask(ctx, session, question)
	text := ""
	if answer != nil {
		text = answer.Text
	}
	if err != nil {
		log.Error("turn failed", zap.Error(err))
		if text == "" {
			text = cyibot.UserMessage(err)
		}
	}
	if text == "" {
		return nil
	}
	return b.post(ctx, msg, text)
}

func (b *Bot) post(ctx context.Context, msg Message, text string) error {
	options := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if msg.ThreadTS != "" {
		options = append(options, slack.MsgOptionTS(msg.ThreadTS))
	}
	_, _, err := b.poster.PostMessageContext(ctx, msg.Channel, options...)
	return err
}

// Connect builds the Slack client and Socket Mode client and resolves the
// bot's own user id.
func Connect(ctx context.Context, botToken, appToken string, logger *zap.Logger) (*slack.Client, *socketmode.Client, string, error) {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return nil, nil, "", cyibot.NewConfigurationError("slack authentication failed", err)
	}
	logger.Info("authenticated with Slack", zap.String("team", auth.Team), zap.String("bot_user_id", auth.UserID))
	return api, socketmode.New(api), auth.UserID, nil
}
