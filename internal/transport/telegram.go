package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	telegramAPIBase = "https://api.telegram.org"
	pollTimeout     = 30 * time.Second
)

// TelegramTransport connects an account through the Telegram Bot API with
// long polling. The account's session string carries the bot token.
type TelegramTransport struct {
	token   string
	apiBase string
	client  *http.Client
	events  chan Event

	username string
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewTelegramTransport(token string) *TelegramTransport {
	return &TelegramTransport{
		token:   token,
		apiBase: telegramAPIBase,
		client: &http.Client{
			Timeout: pollTimeout + 10*time.Second,
		},
		events: make(chan Event, 64),
	}
}

type tgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type tgMessage struct {
	MessageID int64   `json:"message_id"`
	From      *tgUser `json:"from"`
	Chat      struct {
		ID int64 `json:"id"`
	} `json:"chat"`
	Text           string     `json:"text"`
	ReplyToMessage *tgMessage `json:"reply_to_message"`
}

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

// Start validates the token via getMe and launches the polling loop. An auth
// failure here means the session is invalid.
func (t *TelegramTransport) Start(ctx context.Context) error {
	var me tgUser
	if err := t.call(ctx, "getMe", nil, &me); err != nil {
		return fmt.Errorf("session check: %w", err)
	}
	t.username = me.Username

	pctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.poll(pctx)
	return nil
}

func (t *TelegramTransport) Events() <-chan Event {
	return t.events
}

func (t *TelegramTransport) Me() string {
	return t.username
}

// Send delivers text and returns the new message id.
func (t *TelegramTransport) Send(ctx context.Context, chatID string, text string) (int64, error) {
	params := url.Values{}
	params.Set("chat_id", chatID)
	params.Set("text", text)

	var msg tgMessage
	if err := t.call(ctx, "sendMessage", params, &msg); err != nil {
		return 0, err
	}
	return msg.MessageID, nil
}

func (t *TelegramTransport) Stop() error {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	return nil
}

func (t *TelegramTransport) poll(ctx context.Context) {
	defer close(t.done)
	defer close(t.events)

	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		params := url.Values{}
		params.Set("timeout", strconv.Itoa(int(pollTimeout/time.Second)))
		params.Set("offset", strconv.FormatInt(offset, 10))
		params.Set("allowed_updates", `["message"]`)

		var updates []tgUpdate
		if err := t.call(ctx, "getUpdates", params, &updates); err != nil {
			if ctx.Err() != nil {
				return
			}
			// transient network failure; back off and retry
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			if u.Message == nil || u.Message.Text == "" {
				continue
			}
			ev := eventFromMessage(u.Message)
			select {
			case t.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}

func eventFromMessage(m *tgMessage) Event {
	ev := Event{
		ChatID:    strconv.FormatInt(m.Chat.ID, 10),
		MessageID: m.MessageID,
		Text:      m.Text,
	}
	if m.From != nil {
		ev.UserID = strconv.FormatInt(m.From.ID, 10)
		ev.Username = m.From.Username
	}
	if r := m.ReplyToMessage; r != nil {
		ev.ReplyToID = r.MessageID
		if r.From != nil {
			ev.ReplyToUserID = strconv.FormatInt(r.From.ID, 10)
		}
	}
	return ev
}

// call performs one Bot API method call and decodes the result payload.
func (t *TelegramTransport) call(ctx context.Context, method string, params url.Values, result any) error {
	endpoint := fmt.Sprintf("%s/bot%s/%s", t.apiBase, t.token, method)

	var body string
	if params != nil {
		body = params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var parsed struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("%s: decode: %w", method, err)
	}
	if !parsed.OK {
		return fmt.Errorf("%s: api error: %s", method, parsed.Description)
	}
	if result != nil {
		if err := json.Unmarshal(parsed.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
	}
	return nil
}
