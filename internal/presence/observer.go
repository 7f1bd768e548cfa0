package presence

import (
	"context"

	"kindred-chat/pkg/logger"
)

// Observe keeps set subscribed to channel until ctx ends, resubscribing with
// backoff whenever the subscription fails or drops. Each new subscription
// starts with a sync, which rebuilds the set.
func Observe(ctx context.Context, channel Channel, set *OnlineSet, backoff Backoff, log *logger.Logger) {
	if log == nil {
		log = logger.NewNop()
	}
	log = log.Named("presence-observer")

	bo := backoff.New()
	for ctx.Err() == nil {
		sub, err := channel.Subscribe(ctx, "", set.Apply)
		if err != nil {
			delay := bo.NextBackOff()
			log.Warnf("presence observer subscribe failed, retrying in %s: %v", delay, err)
			if !Wait(ctx, delay) {
				return
			}
			continue
		}

		bo.Reset()
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case <-sub.Done():
			log.Infof("presence observer subscription dropped, resubscribing")
		}
	}
}
