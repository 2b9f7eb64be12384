package notify

import (
	"context"
	"time"

	"github.com/Discord-InterChat/InterChat-sub001/internal/cache"
	"github.com/Discord-InterChat/InterChat-sub001/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const publishTimeout = 2 * time.Second

// QueueNotifier pushes every notification as a LobbyEvent onto the Redis list the historian
// consumes.
type QueueNotifier struct {
	rdb    redis.Cmdable
	queue  string
	logger *logrus.Logger
	now    func() time.Time
}

func NewQueueNotifier(rdb redis.Cmdable, queue string, logger *logrus.Logger) *QueueNotifier {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueueNotifier{rdb: rdb, queue: queue, logger: logger, now: time.Now}
}

func (q *QueueNotifier) publish(ev models.LobbyEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := cache.PublishLobbyEvent(ctx, q.rdb, q.queue, ev); err != nil {
		q.logger.WithFields(logrus.Fields{
			"event":      ev.Type,
			"lobby_id":   ev.LobbyID,
			"channel_id": ev.ChannelID,
		}).WithError(err).Error("failed to publish lobby event")
	}
}

func (q *QueueNotifier) NotifyChannelConnect(channelID string, l models.ChatLobby) {
	q.publish(models.NewLobbyEvent(models.EventChannelConnect, &l, channelID, q.now()))
}

func (q *QueueNotifier) NotifyLobbyCreate(channelID string, l models.ChatLobby) {
	q.publish(models.NewLobbyEvent(models.EventLobbyCreate, &l, channelID, q.now()))
}

func (q *QueueNotifier) NotifyChannelDisconnect(l models.ChatLobby, channelID string) {
	q.publish(models.NewLobbyEvent(models.EventChannelDisconnect, &l, channelID, q.now()))
}

func (q *QueueNotifier) NotifyLobbyDelete(channelID string) {
	q.publish(models.NewLobbyEvent(models.EventLobbyDelete, nil, channelID, q.now()))
}
