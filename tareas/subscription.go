package tareas

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

// one live subscription per mounted list view. The subscription is a scoped
// resource: acquired when the view mounts with a non-null user, and Close is
// mandatory on every exit path, including user switch.

type SubscriptionSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultSubscriptionSettings() *SubscriptionSettings {
	return &SubscriptionSettings{
		WsHandshakeTimeout: 2 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        5 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
	}
}

// A raw snapshot is a full point-in-time read of the subscribed path,
// delivered on every remote mutation including ones caused by this client's
// own writes. There is no local echo suppression.
type RawSnapshot struct {
	Path string `json:"path"`
	// false when the node does not exist. distinct from an existing empty map.
	Exists  bool                       `json:"exists"`
	Records map[string]json.RawMessage `json:"records,omitempty"`
}

type SnapshotFunction func(snapshot *RawSnapshot)

type Subscription struct {
	ctx    context.Context
	cancel context.CancelFunc

	syncUrl string
	byJwt   string
	path    string

	callback SnapshotFunction

	settings *SubscriptionSettings
}

func NewSubscriptionWithDefaults(
	ctx context.Context,
	syncUrl string,
	byJwt string,
	path string,
	callback SnapshotFunction,
) *Subscription {
	return NewSubscription(ctx, syncUrl, byJwt, path, callback, DefaultSubscriptionSettings())
}

func NewSubscription(
	ctx context.Context,
	syncUrl string,
	byJwt string,
	path string,
	callback SnapshotFunction,
	settings *SubscriptionSettings,
) *Subscription {
	cancelCtx, cancel := context.WithCancel(ctx)
	subscription := &Subscription{
		ctx:      cancelCtx,
		cancel:   cancel,
		syncUrl:  syncUrl,
		byJwt:    byJwt,
		path:     path,
		callback: callback,
		settings: settings,
	}
	go subscription.run()
	return subscription
}

func (self *Subscription) Path() string {
	return self.path
}

func (self *Subscription) run() {
	defer self.cancel()

	wsUrl, err := wsUrlForPath(self.syncUrl, self.path)
	if err != nil {
		glog.Infof("[s]bad sync url %s = %s\n", self.syncUrl, err)
		return
	}

	for {
		connect := func() (*websocket.Conn, error) {
			dialer := &websocket.Dialer{
				HandshakeTimeout: self.settings.WsHandshakeTimeout,
			}
			header := http.Header{}
			if self.byJwt != "" {
				header.Add("Authorization", fmt.Sprintf("Bearer %s", self.byJwt))
			}
			ws, _, err := dialer.DialContext(self.ctx, wsUrl, header)
			if err != nil {
				return nil, err
			}
			return ws, nil
		}

		ws, err := connect()
		if err != nil {
			glog.Infof("[s]connect error %s = %s\n", self.path, err)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		c := func() {
			defer ws.Close()

			handleCtx, handleCancel := context.WithCancel(self.ctx)
			defer handleCancel()

			go func() {
				defer handleCancel()

				for {
					select {
					case <-handleCtx.Done():
						return
					case <-time.After(self.settings.PingTimeout):
					}
					ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
					if err := ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
						return
					}
				}
			}()

			go func() {
				defer handleCancel()
				select {
				case <-handleCtx.Done():
				}
				// WriteControl is safe concurrently with the ping writer
				ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(self.settings.WriteTimeout),
				)
			}()

			ws.SetPongHandler(func(string) error {
				ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
				return nil
			})

			for {
				ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
				messageType, message, err := ws.ReadMessage()
				if err != nil {
					glog.V(2).Infof("[s]read error %s = %s\n", self.path, err)
					return
				}
				if messageType != websocket.TextMessage {
					continue
				}

				snapshot := &RawSnapshot{}
				if err := json.Unmarshal(message, snapshot); err != nil {
					glog.Infof("[s]malformed snapshot %s = %s\n", self.path, err)
					continue
				}

				// reconciliation and view derivation run synchronously in
				// this callback and must not block on further i/o
				self.callback(snapshot)
			}
		}
		c()

		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *Subscription) IsClosed() bool {
	select {
	case <-self.ctx.Done():
		return true
	default:
		return false
	}
}

func (self *Subscription) Close() {
	self.cancel()
}

func wsUrlForPath(syncUrl string, path string) (string, error) {
	u, err := url.Parse(syncUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/sync"
	q := u.Query()
	q.Set("path", path)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
