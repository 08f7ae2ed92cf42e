package realtime

import (
	"context"

	"github.com/stationsafe/scanner-go/internal/alertlog"
	"github.com/stationsafe/scanner-go/internal/analysis"
	"github.com/stationsafe/scanner-go/internal/conf"
	"github.com/stationsafe/scanner-go/internal/datastore"
	"github.com/stationsafe/scanner-go/internal/logger"
	"github.com/stationsafe/scanner-go/internal/mqtt"
	"github.com/stationsafe/scanner-go/internal/notification"
	"github.com/stationsafe/scanner-go/internal/observability"
)

// persistQueueSize is the datastore delivery queue. It is larger than the
// default so a burst of transitions is not lost while a write is slow.
const persistQueueSize = 4096

// outputs subscribes alert consumers to the monitor and releases them in
// reverse order
type outputs struct {
	monitor *analysis.Monitor
	log     logger.Logger
	closers []func()
}

func (o *outputs) subscribe(name string, fn func(alertlog.Entry)) error {
	unsub, err := o.monitor.SubscribeAlerts(name, fn)
	return o.track(name, unsub, err)
}

func (o *outputs) subscribeWithBuffer(name string, size int, fn func(alertlog.Entry)) error {
	unsub, err := o.monitor.Alerts().SubscribeWithBuffer(name, size, fn)
	return o.track(name, unsub, err)
}

func (o *outputs) track(name string, unsub func(), err error) error {
	if err != nil {
		return err
	}
	o.closers = append(o.closers, unsub)
	o.log.Info("alert consumer attached", logger.String("consumer", name))
	return nil
}

func (o *outputs) close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
	o.closers = nil
}

// attachDatastore persists every alert. It returns nil when persistence is disabled.
func (o *outputs) attachDatastore(settings *conf.Settings, m *observability.Metrics) (datastore.Interface, error) {
	store := datastore.New(settings)
	if store == nil {
		return nil, nil
	}
	store.SetMetrics(m.Datastore)
	if err := store.Open(); err != nil {
		return nil, err
	}
	o.closers = append(o.closers, func() {
		if err := store.Close(); err != nil {
			o.log.Warn("datastore close", logger.Error(err))
		}
	})
	if err := o.subscribeWithBuffer("datastore", persistQueueSize, datastore.Consumer(store, settings.Main.Name)); err != nil {
		return nil, err
	}
	return store, nil
}

// attachMQTT publishes alerts and presence to the broker. A broker that is
// down at startup is not fatal; paho keeps retrying.
func (o *outputs) attachMQTT(ctx context.Context, settings *conf.Settings, m *observability.Metrics) error {
	if !settings.Realtime.MQTT.Enabled {
		return nil
	}
	cfg := mqtt.ConfigFromSettings(settings)
	client, err := mqtt.NewClient(cfg, m.MQTT)
	if err != nil {
		return err
	}
	if err := client.Connect(ctx); err != nil {
		o.log.Warn("mqtt broker unavailable, alerts are not published until it connects", logger.Error(err))
	}
	o.closers = append(o.closers, client.Disconnect)

	publisher := mqtt.NewPublisher(client, cfg, settings.Main.Name, m.MQTT)
	return o.subscribe("mqtt", publisher.Consume)
}

// attachPush sends warnings and errors as push notifications
func (o *outputs) attachPush(settings *conf.Settings, m *observability.Metrics) error {
	if !settings.Realtime.Push.Enabled {
		return nil
	}
	cfg, err := notification.ConfigFromSettings(settings)
	if err != nil {
		return err
	}
	provider, err := notification.NewShoutrrrProvider("shoutrrr", settings.Realtime.Push.URLs, cfg.Timeout)
	if err != nil {
		return err
	}
	dispatcher := notification.NewDispatcher(cfg, m.Notification, provider)
	return o.subscribe("push", dispatcher.Consume)
}
