package forecast

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"

	"github.com/mmdatafocus/forecast_backend/config"
)

var (
	businessMutexMap = make(map[string]*sync.Mutex)
	globalMutex      = &sync.Mutex{}
)

// RunSyncSubscriber starts a pull subscription for queued sync runs, for
// deployments that cannot receive Pub/Sub push. Messages for the same
// business are serialized through a per-business mutex; cross-business runs
// proceed in parallel.
func RunSyncSubscriber(ctx context.Context, e *Engine) error {
	logger := config.GetLogger()

	client, err := config.GetClient(ctx)
	if err != nil {
		return err
	}

	topicName := strings.TrimSpace(os.Getenv("FORECAST_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "forecast-sync"
	}
	topic, err := config.CreateTopicIfNotExists(client, topicName)
	if err != nil {
		return err
	}

	subName := strings.TrimSpace(os.Getenv("FORECAST_SYNC_SUBSCRIPTION"))
	if subName == "" {
		subName = topicName + "-worker"
	}
	sub, err := config.CreateSubscriptionIfNotExists(client, subName, topic)
	if err != nil {
		return err
	}
	sub.ReceiveSettings.MaxOutstandingMessages = 10

	callback := func(ctx context.Context, msg *pubsub.Message) {
		var payload SyncPubSubPayload
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			config.LogError(logger, "forecast", "RunSyncSubscriber", "unmarshal pubsub message", msg.Data, err)
			msg.Ack()
			return
		}
		if payload.RunId == 0 || payload.BusinessId == "" {
			msg.Ack()
			return
		}

		globalMutex.Lock()
		mutex, exists := businessMutexMap[payload.BusinessId]
		if !exists {
			mutex = &sync.Mutex{}
			businessMutexMap[payload.BusinessId] = mutex
		}
		globalMutex.Unlock()

		mutex.Lock()
		defer mutex.Unlock()

		if err := processSyncRun(ctx, e, payload, msg.ID); err != nil {
			logger.WithFields(logrus.Fields{
				"module":      "forecast",
				"business_id": payload.BusinessId,
				"run_id":      payload.RunId,
				"message_id":  msg.ID,
			}).Error("sync run processing failed: " + err.Error())
			msg.Nack()
			return
		}
		msg.Ack()
	}

	go func() {
		if err := sub.Receive(ctx, callback); err != nil {
			config.LogError(logger, "forecast", "RunSyncSubscriber", "receive messages", nil, err)
		}
	}()

	return nil
}
