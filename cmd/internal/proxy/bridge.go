package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"syncgate/cmd/identity/ids"
	"syncgate/cmd/internal/auth"
	"syncgate/cmd/internal/metrics"
	"syncgate/cmd/internal/settings"
	"syncgate/cmd/security/token"

	"github.com/coder/websocket"
)

// Route is one resolved proxy request.
type Route struct {
	DocumentID string
	BackendURL string
	Principal  auth.Principal
	Settings   settings.Settings
}

// Bridge establishes sessions. It is safe for concurrent use; sessions share nothing.
type Bridge struct {
	cfg            Config
	originPatterns []string

	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// onOpen observes each session once it is Open.
	onOpen func(*Session)
}

// NewBridge returns a Bridge. A nil metrics records nothing.
func NewBridge(cfg Config, log *slog.Logger, m *metrics.Metrics) *Bridge {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	cfg = cfg.withDefaults()
	return &Bridge{
		cfg:            cfg,
		originPatterns: originPatterns(cfg.AllowedOrigins),
		log:            log,
		metrics:        m,
		now:            time.Now,
	}
}

// Serve runs one session for rt on the upgrade request r and blocks until it is Closed.
//
// The backend leg is dialed before the client is accepted, so a backend failure is
// reported to the client as 502 Bad Gateway and no session ever opens.
func (b *Bridge) Serve(w http.ResponseWriter, r *http.Request, rt Route) error {
	now := b.now().UTC()

	credential, mode, err := token.Mint(
		rt.Settings.SigningSecret,
		rt.Settings.InsecureLegacyIdentity,
		rt.Principal.ID,
		rt.Principal.Login,
		rt.DocumentID,
		now,
	)
	if err != nil {
		b.metrics.SessionRejected("configuration_missing")
		b.log.Error("session.credential.fail", "document_id", rt.DocumentID, "err", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return fmt.Errorf("%w: %v", ErrConfigurationMissing, err)
	}
	if mode == token.ModeInsecureLegacy {
		b.log.Warn("session.credential.insecure", "document_id", rt.DocumentID)
	}

	id, err := ids.NewULID(now)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return fmt.Errorf("session id: %w", err)
	}
	sess := newSession(id, rt.DocumentID, b.cfg, b.log, b.metrics)

	dialCtx, cancel := context.WithTimeout(r.Context(), b.cfg.DialTimeout)
	started := time.Now()
	backend, _, err := websocket.Dial(dialCtx, rt.BackendURL, &websocket.DialOptions{
		HTTPClient:   b.cfg.HTTPClient,
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + credential}},
		Subprotocols: requestedSubprotocols(r),
	})
	cancel()
	b.metrics.Dial(time.Since(started).Seconds())
	if err != nil {
		b.metrics.SessionRejected("backend_unreachable")
		b.log.Info("session.dial.fail",
			"session_id", sess.ID,
			"document_id", rt.DocumentID,
			"backend_url", rt.BackendURL,
			"err", err,
		)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	var subprotocols []string
	if sp := backend.Subprotocol(); sp != "" {
		subprotocols = []string{sp}
	}
	// Server read/write deadlines survive the hijack; a session outlives them.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	client, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       subprotocols,
		OriginPatterns:     b.originPatterns,
		InsecureSkipVerify: b.cfg.InsecureSkipVerify,
	})
	if err != nil {
		_ = backend.Close(websocket.StatusGoingAway, "client upgrade failed")
		b.metrics.SessionRejected("accept_failed")
		b.log.Info("session.accept.fail", "session_id", sess.ID, "origin", r.Header.Get("Origin"), "err", err)
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}

	sess.open(r.Context(), client, backend)
	b.metrics.SessionOpened()
	b.log.Info("session.open",
		"session_id", sess.ID,
		"document_id", sess.DocumentID,
		"principal", rt.Principal.LogName(),
		"credential_mode", mode.String(),
		"subprotocol", client.Subprotocol(),
	)
	if b.onOpen != nil {
		b.onOpen(sess)
	}

	outcome, err := sess.run()
	b.metrics.SessionClosed(outcome)
	b.log.Info("session.closed",
		"session_id", sess.ID,
		"document_id", sess.DocumentID,
		"outcome", outcome,
		"err", err,
	)
	return err
}

func requestedSubprotocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
