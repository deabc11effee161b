// Package cast drives the handshake that launches the Spotify receiver
// app on a cast device and authorizes it with a device-scoped token.
package cast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bendikrb/spotcast/internal/core"
)

// AppNamespace is the receiver app's cast namespace.
const AppNamespace = "urn:x-cast:com.spotify.chromecast.secure.v1"

const (
	typeGetInfo         = "getInfo"
	typeGetInfoResponse = "getInfoResponse"
	typeAddUser         = "addUser"
	typeAddUserResponse = "addUserResponse"
	typeAddUserError    = "addUserError"
)

const (
	authExchangeTimeout = 10 * time.Second

	// waitPollInterval is the granularity of the bounded launch wait.
	waitPollInterval = time.Second
)

// State is the phase of the current launch attempt.
type State int

const (
	StateIdle State = iota
	StateAwaitingInfo
	StateAwaitingAuth
	StateLaunched
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingInfo:
		return "awaiting_info"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateLaunched:
		return "launched"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Negotiator runs the launch handshake with one cast device. Inbound
// messages arrive on the transport's delivery path and only record state
// and set the attempt signal; the caller blocks in Launch observing that
// signal with a bounded poll.
//
// One negotiator is bound to one device and handles one attempt at a
// time. A new Launch call force-resets any prior attempt; overlapping
// calls corrupt state and must be serialized by the caller.
type Negotiator struct {
	transport  core.CastTransport
	authURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu              sync.Mutex
	state           State
	accessToken     string
	expires         time.Time
	clientID        string
	deviceID        string
	credentialError bool
	signalled       bool
	signal          chan struct{}
}

func NewNegotiator(transport core.CastTransport, authURL string, logger *zap.Logger) *Negotiator {
	return &Negotiator{
		transport:  transport,
		authURL:    authURL,
		httpClient: &http.Client{Timeout: authExchangeTimeout},
		logger:     logger,
		signal:     make(chan struct{}),
	}
}

// State returns the phase of the current attempt.
func (n *Negotiator) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// SpotifyDeviceID returns the device identifier assigned during the
// current attempt, empty until the info response arrives or after a
// credential rejection.
func (n *Negotiator) SpotifyDeviceID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.deviceID
}

// CredentialError reports whether the receiver rejected the
// authorization during the current attempt.
func (n *Negotiator) CredentialError() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.credentialError
}

// Launch starts the receiver app and authorizes it, blocking until the
// handshake completes or the timeout passes. It returns a
// LaunchTimeoutError when the receiver never answers and a
// CredentialError when it explicitly rejects the token.
func (n *Negotiator) Launch(ctx context.Context, accessToken string, expires time.Time, timeout time.Duration) error {
	if accessToken == "" || expires.IsZero() {
		return fmt.Errorf("access token and expiry are required to launch")
	}

	n.mu.Lock()
	n.state = StateIdle
	n.accessToken = accessToken
	n.expires = expires
	n.clientID = ""
	n.deviceID = ""
	n.credentialError = false
	n.signalled = false
	n.signal = make(chan struct{})
	signal := n.signal
	n.mu.Unlock()

	if err := n.transport.StartApp(ctx); err != nil {
		return fmt.Errorf("failed to start receiver app: %w", err)
	}

	n.mu.Lock()
	n.state = StateAwaitingInfo
	n.mu.Unlock()

	name := n.transport.FriendlyName()
	if err := n.transport.Send(map[string]any{
		"type": typeGetInfo,
		"payload": map[string]any{
			"remoteName":        name,
			"deviceID":          DeviceID(name),
			"deviceAPI_isGroup": false,
		},
	}); err != nil {
		return fmt.Errorf("failed to send %s: %w", typeGetInfo, err)
	}

	return n.wait(ctx, signal, timeout)
}

func (n *Negotiator) wait(ctx context.Context, signal chan struct{}, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	for {
		n.mu.Lock()
		state := n.state
		credentialError := n.credentialError
		n.mu.Unlock()

		if state == StateLaunched {
			return nil
		}
		if credentialError {
			return &core.CredentialError{Device: n.transport.FriendlyName()}
		}
		if !time.Now().Before(deadline) {
			return &core.LaunchTimeoutError{Device: n.transport.FriendlyName(), Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-signal:
			// Fires once per attempt; the next iteration reads the
			// outcome. Nil out so the poll branch takes over after.
			signal = nil
		case <-time.After(waitPollInterval):
		}
	}
}

// OnMessage handles one inbound namespace message. It is called from the
// transport's delivery path and never blocks the waiter; completion is
// communicated through the attempt signal.
func (n *Negotiator) OnMessage(data map[string]any) {
	msgType, _ := data["type"].(string)

	switch msgType {
	case typeGetInfoResponse:
		// A duplicate info response restarts the auth exchange.
		n.handleInfoResponse(data)

	case typeAddUserResponse:
		n.logger.Debug("Receiver app confirmed user")
		n.mu.Lock()
		n.state = StateLaunched
		n.mu.Unlock()
		n.signalWaiter()

	case typeAddUserError:
		n.logger.Warn("Receiver app rejected credentials")
		n.mu.Lock()
		n.state = StateFailed
		n.deviceID = ""
		n.credentialError = true
		n.mu.Unlock()
		n.signalWaiter()
	}
}

func (n *Negotiator) handleInfoResponse(data map[string]any) {
	payload, _ := data["payload"].(map[string]any)
	clientID, _ := payload["clientID"].(string)

	n.mu.Lock()
	n.clientID = clientID
	n.deviceID = DeviceID(n.transport.FriendlyName())
	n.state = StateAwaitingAuth
	token := n.accessToken
	deviceID := n.deviceID
	n.mu.Unlock()

	n.logger.Debug("Receiver app info received",
		zap.String("clientID", clientID),
		zap.String("deviceID", deviceID))

	blob, err := n.exchangeToken(token, clientID, deviceID)
	if err != nil {
		// Leave the attempt to time out; the receiver never got a user.
		n.logger.Error("Device auth exchange failed", zap.Error(err))
		return
	}

	if err := n.transport.Send(map[string]any{
		"type": typeAddUser,
		"payload": map[string]any{
			"blob":      blob,
			"tokenType": "accesstoken",
		},
	}); err != nil {
		n.logger.Error("Failed to send addUser", zap.Error(err))
	}
}

// exchangeToken trades the account token for a device-scoped blob at the
// receiver's auth endpoint.
func (n *Negotiator) exchangeToken(accessToken, clientID, deviceID string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"clientId": clientID,
		"deviceId": deviceID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, n.authURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("device auth endpoint returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("failed to decode device auth response: %w", err)
	}

	if payload.AccessToken == "" {
		return "", fmt.Errorf("device auth response contained no token")
	}

	return payload.AccessToken, nil
}

func (n *Negotiator) signalWaiter() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.signalled {
		n.signalled = true
		close(n.signal)
	}
}
