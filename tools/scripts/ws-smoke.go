// Package main provides a CI-friendly smoke test for the syncgate collaboration proxy.
//
// It validates:
//   - the upgrade is claimed under the proxy prefix and bridged to the backend
//   - subprotocol negotiation survives the bridge
//   - a binary frame round-trips unchanged (against an echoing backend, -echo)
//   - an invalid document id is refused with 400 before any backend dial
//   - a normal close completes cleanly
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "yjs-sync"
	maxReadBytes       = 64 << 10
)

func main() {
	var (
		wsURL       = flag.String("url", "ws://127.0.0.1:8080/collab-ws/issue-1", "Proxy WebSocket URL (prefix + document id)")
		origin      = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		userID      = flag.String("user", "", "Value for X-Remote-User-Id (gateway must trust identity headers)")
		login       = flag.String("login", "", "Value for X-Remote-User")
		subprotocol = flag.String("subprotocol", defaultSubprotocol, "Subprotocol to offer; empty offers none")
		echo        = flag.Bool("echo", false, "Expect the backend to echo frames back")
		timeout     = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose     = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	h := identityHeader(*origin, *userID, *login)

	mustRejectInvalidDocument(root, *wsURL, h, *timeout)

	conn := mustConnect(root, *wsURL, h, *subprotocol, *timeout)

	if *verbose {
		fmt.Printf("connected: url=%s subprotocol=%q\n", *wsURL, conn.Subprotocol())
	}

	payload := []byte{0x00, 0x01, 0x02, 0xfe, 0xff}
	mustWrite(root, conn, payload, *timeout)
	if *echo {
		mustReadEcho(root, conn, payload, *timeout)
	}

	if err := conn.Close(websocket.StatusNormalClosure, "smoke done"); err != nil {
		fatalf("close: %v", err)
	}

	fmt.Printf("OK: url=%s echo=%t\n", *wsURL, *echo)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.Trim(u.Path, "/") == "" || strings.HasSuffix(u.Path, "/") {
		return errors.New("path must end in a document id")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func identityHeader(origin, userID, login string) http.Header {
	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	if strings.TrimSpace(userID) != "" {
		h.Set("X-Remote-User-Id", userID)
		h.Set("X-Remote-User", login)
	}
	return h
}

// siblingURL swaps the trailing document id.
func siblingURL(wsURL, doc string) string {
	i := strings.LastIndexByte(wsURL, '/')
	return wsURL[:i+1] + doc
}

func mustRejectInvalidDocument(parent context.Context, wsURL string, h http.Header, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, siblingURL(wsURL, "not-a-document"), &websocket.DialOptions{HTTPHeader: h})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err == nil {
		closeWS(conn)
		fatalf("invalid document was proxied")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("invalid document: status=%d want 400 (%v)", status, err)
	}
}

func mustConnect(parent context.Context, wsURL string, h http.Header, subprotocol string, stepTimeout time.Duration) *websocket.Conn {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	opts := &websocket.DialOptions{HTTPHeader: h}
	if subprotocol != "" {
		opts.Subprotocols = []string{subprotocol}
	}
	conn, resp, err := websocket.Dial(ctx, wsURL, opts)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		fatalf("connect: status=%d: %v", status, err)
	}

	assertSubprotocol(resp, subprotocol)
	conn.SetReadLimit(maxReadBytes)
	return conn
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func mustWrite(parent context.Context, conn *websocket.Conn, payload []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, payload); err != nil {
		fatalf("write: %v", err)
	}
}

func mustReadEcho(parent context.Context, conn *websocket.Conn, want []byte, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	typ, got, err := conn.Read(ctx)
	if err != nil {
		fatalf("read echo: %v", err)
	}
	if typ != websocket.MessageBinary {
		fatalf("echo type=%v want binary", typ)
	}
	if !bytes.Equal(got, want) {
		fatalf("echo mismatch: got=%x want=%x", got, want)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
