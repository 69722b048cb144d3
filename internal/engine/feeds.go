package engine

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc"

	"tradedesk/internal/config"
	"tradedesk/internal/errors"
	"tradedesk/internal/feed"
	"tradedesk/internal/logging"
	"tradedesk/internal/resilience"
	"tradedesk/internal/stream"
)

// Feed names.
const (
	FeedMarket = "market"
	FeedChart  = "chart"
	FeedInfo   = "info"
)

type feedLink struct {
	name      string
	sock      feed.Socket
	healthURL string
}

// offlineSender stands in for a feed that is not configured.
type offlineSender struct{ name string }

func (s offlineSender) Send(event string, _ interface{}) error {
	return errors.NewFeedError(s.name, "send "+event, errors.ErrNotConnected)
}

func (offlineSender) IsConnected() bool { return false }

func (e *Engine) newSocket(name string, given feed.Socket, cfg config.FeedConfig) feed.Socket {
	if given != nil {
		return given
	}
	if cfg.URL == "" {
		return nil
	}
	return feed.NewConn(feed.Config{
		Name:                 name,
		URL:                  cfg.URL,
		HealthURL:            cfg.HealthURL,
		Token:                e.cfg.Token,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectDelay:       cfg.ReconnectDelay,
		PingInterval:         cfg.PingInterval,
		HandshakeTimeout:     cfg.HandshakeTimeout,
		Logger:               e.cfg.Logger,
	})
}

func (e *Engine) buildFeeds() {
	market := e.newSocket(FeedMarket, e.deps.Market, e.cfg.Feeds.Market)
	chart := e.newSocket(FeedChart, e.deps.Chart, e.cfg.Feeds.Chart)
	info := e.newSocket(FeedInfo, e.deps.Info, e.cfg.Feeds.Info)

	var marketSender, chartSender feed.Sender = offlineSender{FeedMarket}, offlineSender{FeedChart}
	if market != nil {
		marketSender = market
	}
	if chart != nil {
		chartSender = chart
	}
	e.chartReg = stream.NewRegistry[chartUpdate](stream.ChartRegistryConfig(e.cfg.Logger), chartSender)
	e.optionReg = stream.NewRegistry[struct{}](stream.OptionDataRegistryConfig(e.cfg.Logger), marketSender)

	links := []struct {
		name   string
		sock   feed.Socket
		health string
		onUp   func()
		onDown func()
	}{
		{FeedMarket, market, e.cfg.Feeds.Market.HealthURL, e.onMarketConnect, e.optionReg.HandleDisconnect},
		{FeedChart, chart, e.cfg.Feeds.Chart.HealthURL, e.chartReg.HandleConnect, e.chartReg.HandleDisconnect},
		{FeedInfo, info, e.cfg.Feeds.Info.HealthURL, nil, nil},
	}

	for _, l := range links {
		if l.sock == nil {
			continue
		}
		link := &feedLink{name: l.name, sock: l.sock, healthURL: l.health}
		e.feeds = append(e.feeds, link)
		e.bindFeed(link, l.onUp, l.onDown)
	}
}

func (e *Engine) bindFeed(link *feedLink, onUp, onDown func()) {
	logger := logging.WithFeed(e.logger, link.name)

	link.sock.OnEvent(func(ev feed.Event) {
		e.Post(func() { e.handleEvent(ev) })
	})
	link.sock.OnConnect(func(reconnected bool) {
		logger.Info().Bool("reconnected", reconnected).Msg("Feed connected")
		if onUp != nil {
			e.Post(onUp)
		}
	})
	link.sock.OnStateChange(func(s feed.State) {
		e.hub.Publish(Topic(UpdateFeed, link.name), Update{Kind: UpdateFeed, Key: link.name, FeedState: s})
		if s != feed.StateConnected && onDown != nil {
			e.Post(onDown)
		}
	})
	link.sock.OnError(func(err error) {
		if errors.Is(err, errors.ErrReconnectExhausted) || errors.Is(err, errors.ErrNotReady) {
			logger.Warn().Err(err).Msg("Feed offline")
			e.notifyError(err, fmt.Sprintf("%s feed offline", link.name))
			return
		}
		logger.Debug().Err(err).Msg("Feed error")
	})
}

// onMarketConnect subscribes index prices and brings option-data
// subscriptions back onto the wire. It runs on the loop.
func (e *Engine) onMarketConnect() {
	if l := e.feed(FeedMarket); l != nil {
		if err := l.sock.Send(feed.OutSubscribe, feed.NewIndexSubscription()); err != nil {
			e.logger.Warn().Err(err).Msg("Index subscribe failed")
		}
	}
	e.optionReg.HandleConnect()
}

func (e *Engine) feed(name string) *feedLink {
	for _, l := range e.feeds {
		if l.name == name {
			return l
		}
	}
	return nil
}

// connectFeeds dials every feed concurrently. A feed that fails stays
// offline; its OnError handler has already reported why.
func (e *Engine) connectFeeds(ctx context.Context) {
	results := make([]bool, len(e.feeds))
	var wg conc.WaitGroup
	for i, l := range e.feeds {
		i, l := i, l
		wg.Go(func() { results[i] = l.sock.Connect(ctx) })
	}
	wg.Wait()

	for i, l := range e.feeds {
		if !results[i] {
			e.logger.Warn().Str("feed", l.name).Msg("Feed did not connect")
		}
	}
}

func (e *Engine) disconnectFeeds() {
	for _, l := range e.feeds {
		l.sock.Disconnect()
	}
}

func (e *Engine) registerHealthChecks() {
	for _, l := range e.feeds {
		if status, ok := l.sock.(resilience.FeedStatus); ok {
			e.health.RegisterComponent("feed."+l.name, resilience.FeedHealthCheck(status))
		}
		if l.healthURL != "" {
			e.health.RegisterComponent("ready."+l.name, resilience.ReadinessHealthCheck(feed.NewProber(l.healthURL, nil).Probe))
		}
	}
	e.health.RegisterComponent("services", resilience.ServicesHealthCheck(e.deps.Backend.GetServiceEvents, nil))
	if pinger, ok := e.deps.Store.(interface{ Ping(context.Context) error }); ok {
		e.health.RegisterComponent("database", resilience.DatabaseHealthCheck(pinger.Ping))
	}

	e.health.SetAlertCallback(func(a resilience.HealthAlert) {
		// Feeds report their own outages through OnError.
		if isFeedComponent(a.Component) {
			return
		}
		if a.To == resilience.HealthStatusHealthy {
			e.notifyInfo("Recovered", fmt.Sprintf("%s is healthy again", a.Component))
			return
		}
		if a.To == resilience.HealthStatusUnhealthy {
			e.notifyError(errors.New(a.Message), fmt.Sprintf("%s unhealthy", a.Component))
		}
	})
}
