// Package app wires the client core together: storage, REST client, session
// store and notification channel. The channel follows the session: it
// connects with the credential once the session is authenticated and is torn
// down, with the notification log cleared, as soon as it is not.
//
// A redirect to the login view resets the core: in-memory state is dropped
// and the session is restored from storage, as after a page reload.
package app

import (
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/carthagofood/carthago/internal/client/api"
	"github.com/carthagofood/carthago/internal/client/notify"
	"github.com/carthagofood/carthago/internal/client/session"
	"github.com/carthagofood/carthago/internal/client/storage"
	"github.com/carthagofood/carthago/internal/config"
)

// Deps overrides collaborators that New would otherwise build from the
// options. Zero fields are built.
type Deps struct {
	Storage    storage.Store
	HTTPClient *http.Client
	Dialer     notify.Dialer
	Navigator  session.Navigator
	Alerter    notify.Alerter
	Reconnect  notify.ReconnectPolicy
}

// App is one running client core.
type App struct {
	API           *api.Client
	Session       *session.Store
	Notifications *notify.Log
	Channel       *notify.Channel

	log         *zap.Logger
	unsubscribe func()

	mu     sync.Mutex
	token  string
	sub    *notify.Subscription
	closed bool
}

// New builds the client core and restores the persisted session. A restored
// session connects the notification channel before New returns.
func New(opts *config.Options, log *zap.Logger, deps Deps) (*App, error) {
	if log == nil {
		log = zap.NewNop()
	}

	st := deps.Storage
	if st == nil {
		ls, err := openStorage(opts, log)
		if err != nil {
			return nil, err
		}
		st = ls
	}

	hc := deps.HTTPClient
	if hc == nil {
		var err error
		hc, err = api.NewHTTPClient(opts.CAFile, opts.Timeout)
		if err != nil {
			return nil, err
		}
	}

	dialer := deps.Dialer
	if dialer == nil {
		tlsConfig, err := api.LoadTLSConfig(opts.CAFile)
		if err != nil {
			return nil, err
		}
		dialer = notify.NewWebsocketDialer(opts.PushURL, tlsConfig)
	}

	host := deps.Navigator
	if host == nil {
		host = api.NavigatorFunc(func(path string) {
			log.Info("redirect", zap.String("path", path))
		})
	}

	alerter := deps.Alerter
	if alerter == nil {
		alerter = notify.LogAlerter{Log: log}
	}

	a := &App{log: log}
	nav := api.NavigatorFunc(func(path string) {
		if path == api.LoginPath {
			if err := a.Reset(); err != nil {
				log.Warn("reset after unauthorized response", zap.Error(err))
			}
		}
		host.Navigate(path)
	})

	var sess *session.Store
	a.API = api.New(opts.APIURL,
		api.WithHTTPClient(hc),
		api.WithTokenSource(func() string { return sess.Token() }),
		api.WithNavigator(nav),
		api.WithLogger(log.Named("api")),
	)
	sess = session.New(a.API, st, session.WithNavigator(nav), session.WithLogger(log.Named("session")))
	a.Session = sess

	a.Notifications = notify.NewLog()
	chOpts := []notify.ChannelOption{
		notify.WithAlerter(alerter),
		notify.WithLogger(log.Named("push")),
	}
	if deps.Reconnect != nil {
		chOpts = append(chOpts, notify.WithReconnectPolicy(deps.Reconnect))
	}
	a.Channel = notify.NewChannel(dialer, a.Notifications, chOpts...)

	a.unsubscribe = sess.Subscribe(a.follow)
	if err := sess.Bootstrap(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func openStorage(opts *config.Options, log *zap.Logger) (*storage.LocalStorage, error) {
	var storeOpts []storage.Option
	if opts.SealKeyFile != "" {
		sealer, err := storage.LoadSealer(opts.SealKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load seal key: %w", err)
		}
		storeOpts = append(storeOpts, storage.WithSealer(sealer))
	}

	ls := storage.NewLocalStorage(opts.StorePath, storeOpts...)
	if err := ls.Load(); err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, fmt.Errorf("load session storage: %w", err)
		}
		log.Warn("session storage is corrupt, starting empty", zap.Error(err))
	}
	return ls, nil
}

// follow keeps the channel bound to the session credential.
func (a *App) follow(s session.Snapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	if s.IsAuthenticated() {
		if s.Token != a.token || a.sub == nil {
			a.token = s.Token
			a.sub = a.Channel.Connect(s.Token)
			go a.watch(a.sub)
		}
		return
	}

	if a.token != "" {
		a.disconnect()
	}
}

// watch releases sub once it ends on its own, so the next authenticated
// snapshot connects again even with the same token.
func (a *App) watch(sub *notify.Subscription) {
	<-sub.Done()
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sub == sub {
		a.sub = nil
	}
}

// disconnect closes the channel and clears the log. Callers hold a.mu.
func (a *App) disconnect() {
	a.token = ""
	a.sub = nil
	a.Channel.Close()
	a.Notifications.Clear()
}

// Reset discards in-app state: the push connection, the notification log and
// the in-memory session. The session is then restored from storage, which
// reconnects the channel if a credential is still persisted.
func (a *App) Reset() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.disconnect()
	a.mu.Unlock()

	return a.Session.Reload()
}

// Close stops following the session and releases the push connection.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	a.unsubscribe()
	a.Channel.Close()
}
