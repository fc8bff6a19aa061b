package emulator

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/protocol"
)

type envelope struct {
	Type    uint16 `json:"type"`
	Payload string `json:"payload"`
}

// Bridge serves the device bridge HTTP API in front of a Device.
type Bridge struct {
	Device *Device
	// Authorize, when set, must accept a request before it is served.
	Authorize func(r *http.Request, body []byte) bool

	mu       sync.Mutex
	sessions map[string]bool
}

// NewBridge returns a bridge for dev.
func NewBridge(dev *Device) *Bridge {
	return &Bridge{Device: dev, sessions: make(map[string]bool)}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if b.Authorize != nil && !b.Authorize(r, body) {
		writeError(w, http.StatusUnauthorized, "bad stamp")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/acquire/"):
		id := "session-" + strings.TrimPrefix(r.URL.Path, "/acquire/")
		b.sessions[id] = true
		_ = json.NewEncoder(w).Encode(map[string]string{"session": id})
	case strings.HasPrefix(r.URL.Path, "/release/"):
		delete(b.sessions, strings.TrimPrefix(r.URL.Path, "/release/"))
		_, _ = w.Write([]byte("{}"))
	case strings.HasPrefix(r.URL.Path, "/call/"):
		if !b.sessions[strings.TrimPrefix(r.URL.Path, "/call/")] {
			writeError(w, http.StatusNotFound, "unknown session")
			return
		}
		b.call(r.Context(), w, body)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// call answers with the device's acknowledgment, or a Failure message when
// the device rejects the request. Every ack type follows its request type.
func (b *Bridge) call(ctx context.Context, w http.ResponseWriter, body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req, err := protocol.NewMessage(protocol.MessageType(env.Type))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := hex.DecodeString(env.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := codec.Deserialize(data, req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ack, err := protocol.NewMessage(protocol.MessageType(env.Type) + 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp protocol.Message = ack
	if err := b.Device.Call(ctx, req, ack); err != nil {
		var failure *protocol.Failure
		if !errors.As(err, &failure) {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp = failure
	}

	payload, err := codec.Serialize(resp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = json.NewEncoder(w).Encode(envelope{Type: uint16(resp.MessageType()), Payload: hex.EncodeToString(payload)})
}
