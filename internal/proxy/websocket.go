package proxy

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/opsdeck/gateway/internal/observability"
)

// websocketProxy relays WebSocket sessions between client and backend.
type websocketProxy struct {
	logger observability.Logger
}

// upgrader upgrades client connections. Origin checking is deliberately
// permissive; the preflight handler owns CORS policy.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// proxy upgrades the client connection, dials the backend over ws/wss, and
// relays frames bidirectionally until either side closes.
func (wp *websocketProxy) proxy(w http.ResponseWriter, r *http.Request, target *url.URL, transport http.RoundTripper) error {
	backendURL := backendWSURL(target, r)

	dialer := websocket.Dialer{}
	if t, ok := transport.(*http.Transport); ok && t.TLSClientConfig != nil {
		dialer.TLSClientConfig = t.TLSClientConfig.Clone()
	}

	backendConn, resp, err := dialer.DialContext(r.Context(), backendURL, upstreamWSHeaders(r))
	if err != nil {
		wp.relayDialFailure(w, resp)
		return fmt.Errorf("dial backend websocket: %w", err)
	}
	defer backendConn.Close()

	clientConn, err := upgrader.Upgrade(w, r, clientWSHeaders(resp))
	if err != nil {
		return fmt.Errorf("upgrade client connection: %w", err)
	}
	defer clientConn.Close()

	wp.relay(clientConn, backendConn)
	return nil
}

// relayDialFailure forwards the backend's refusal to the client, or a
// plain 502 when the dial produced no response at all.
func (wp *websocketProxy) relayDialFailure(w http.ResponseWriter, resp *http.Response) {
	if resp == nil {
		writeError(w, http.StatusBadGateway, "upstream unreachable")
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}

// relay copies frames in both directions until one side errors or closes.
func (wp *websocketProxy) relay(clientConn, backendConn *websocket.Conn) {
	done := make(chan struct{}, 2)

	pump := func(src, dst *websocket.Conn) {
		defer func() { done <- struct{}{} }()
		for {
			msgType, msg, err := src.ReadMessage()
			if err != nil {
				_ = dst.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				return
			}
			if err := dst.WriteMessage(msgType, msg); err != nil {
				return
			}
		}
	}

	go pump(backendConn, clientConn)
	go pump(clientConn, backendConn)

	<-done
}

// backendWSURL maps the backend's http(s) target to a ws(s) URL keeping
// the request path and query.
func backendWSURL(target *url.URL, r *http.Request) string {
	scheme := "ws"
	if target.Scheme == "https" {
		scheme = "wss"
	}

	u := scheme + "://" + target.Host + r.URL.Path
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}

// upstreamWSHeaders copies client headers toward the backend, skipping the
// handshake headers the websocket library manages itself.
func upstreamWSHeaders(r *http.Request) http.Header {
	header := http.Header{}
	for name, values := range r.Header {
		switch strings.ToLower(name) {
		case "upgrade", "connection", "sec-websocket-key",
			"sec-websocket-version", "sec-websocket-extensions",
			"sec-websocket-protocol":
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	return header
}

// clientWSHeaders extracts backend handshake response headers to pass back
// to the client, minus the ones the upgrader sets.
func clientWSHeaders(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	header := http.Header{}
	for name, values := range resp.Header {
		switch strings.ToLower(name) {
		case "upgrade", "connection", "sec-websocket-accept":
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	return header
}
