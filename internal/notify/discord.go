// Package notify adapts lobby lifecycle notifications to the places that need to hear about
// them: the Discord channels themselves, the historian's event queue, and fan-out combinations.
package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// MessageSender is the part of *discordgo.Session used to post channel messages.
type MessageSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type outgoingMessage struct {
	channelID string
	content   string
}

// DiscordNotifier posts a short message to every affected channel. Messages are queued and
// delivered by Run at the configured rate; when the queue is full new messages are dropped.
type DiscordNotifier struct {
	sender  MessageSender
	limiter *rate.Limiter
	logger  *logrus.Logger
	queue   chan outgoingMessage

	// pending counts messages accepted by send and not yet delivered or dropped.
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// NewDiscordNotifier returns a notifier sending at most perSecond messages per second.
func NewDiscordNotifier(sender MessageSender, perSecond float64, logger *logrus.Logger) *DiscordNotifier {
	if perSecond <= 0 {
		perSecond = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	d := &DiscordNotifier{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:  logger,
		queue:   make(chan outgoingMessage, 256),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Run delivers queued messages until ctx is done. Messages still queued then are dropped.
func (d *DiscordNotifier) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			d.drain()
			return nil
		}
		select {
		case <-ctx.Done():
		case msg := <-d.queue:
			d.deliver(ctx, msg)
		}
	}
}

func (d *DiscordNotifier) deliver(ctx context.Context, msg outgoingMessage) {
	defer d.done()
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}
	if _, err := d.sender.ChannelMessageSend(msg.channelID, msg.content); err != nil {
		d.logger.WithField("channel_id", msg.channelID).WithError(err).Warn("failed to send lobby notification")
	}
}

func (d *DiscordNotifier) drain() {
	for {
		select {
		case <-d.queue:
			d.done()
		default:
			return
		}
	}
}

// Flush blocks until no message is pending, i.e. everything queued so far was delivered or
// dropped. Run must be active. Sends racing with Flush are waited for as well.
func (d *DiscordNotifier) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.pending > 0 {
		d.idle.Wait()
	}
}

func (d *DiscordNotifier) done() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending--
	if d.pending == 0 {
		d.idle.Broadcast()
	}
}

func (d *DiscordNotifier) send(channelID, content string) {
	d.mu.Lock()
	d.pending++
	d.mu.Unlock()
	select {
	case d.queue <- outgoingMessage{channelID: channelID, content: content}:
	default:
		d.done()
		d.logger.WithField("channel_id", channelID).Warn("discord send queue full, dropping notification")
	}
}

// sendOthers messages every member of l except channelID.
func (d *DiscordNotifier) sendOthers(l models.ChatLobby, channelID, content string) {
	for _, c := range l.Connections {
		if c.ChannelID != channelID {
			d.send(c.ChannelID, content)
		}
	}
}

func (d *DiscordNotifier) NotifyChannelConnect(channelID string, l models.ChatLobby) {
	d.send(channelID, fmt.Sprintf("Connected! You joined a lobby with %s.", otherServers(len(l.Connections)-1)))
	d.sendOthers(l, channelID, "A new server joined the lobby. Say hi!")
}

func (d *DiscordNotifier) NotifyLobbyCreate(channelID string, l models.ChatLobby) {
	d.send(channelID, fmt.Sprintf("Match found! You are now chatting with %s.", otherServers(len(l.Connections)-1)))
}

func (d *DiscordNotifier) NotifyChannelDisconnect(l models.ChatLobby, channelID string) {
	d.send(channelID, "You have been disconnected from the lobby.")
	d.sendOthers(l, channelID, "A server left the lobby.")
}

func (d *DiscordNotifier) NotifyLobbyDelete(channelID string) {
	d.send(channelID, "Everyone else left, so the lobby was closed. Connect again to find a new one.")
}

func otherServers(n int) string {
	if n == 1 {
		return "1 other server"
	}
	return fmt.Sprintf("%d other servers", n)
}
