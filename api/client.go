package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/anchorageoss/coldsign/codec"
	"github.com/anchorageoss/coldsign/crypto"
	"github.com/anchorageoss/coldsign/errs"
	"github.com/anchorageoss/coldsign/keys"
	"github.com/anchorageoss/coldsign/protocol"
)

// HTTPClient interface for dependency injection
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// KeyProvider interface for providing API keys
type KeyProvider interface {
	GetAPIKey(ctx context.Context) (*keys.APIKey, error)
}

// Client implements the device bridge client
type Client struct {
	BridgeURI  string
	HTTPClient HTTPClient
	// APIKey stamps every request when set.
	APIKey *keys.APIKey
}

// NewClient creates a new bridge client. A nil provider leaves requests
// unstamped.
func NewClient(bridgeURI string, httpClient HTTPClient, provider KeyProvider) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	client := &Client{
		BridgeURI:  strings.TrimRight(bridgeURI, "/"),
		HTTPClient: httpClient,
	}
	if provider != nil {
		apiKey, err := provider.GetAPIKey(context.Background())
		if err != nil {
			return nil, fmt.Errorf("failed to load API key: %w", err)
		}
		client.APIKey = apiKey
	}
	return client, nil
}

// Session is an acquired device. It implements the device transport.
type Session struct {
	client *Client
	ID     string
}

// Acquire opens a session on the device at path.
func (c *Client) Acquire(ctx context.Context, path string) (*Session, error) {
	body, err := c.post(ctx, "/acquire/"+url.PathEscape(path), []byte("{}"))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire device %s: %w", path, err)
	}

	var resp AcquireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode acquire response: %w", err)
	}
	if resp.Session == "" {
		return nil, errors.New("bridge returned an empty session")
	}
	log.Infof("Acquired device %s, session %s", path, resp.Session)
	return &Session{client: c, ID: resp.Session}, nil
}

// Release closes the session.
func (s *Session) Release(ctx context.Context) error {
	if _, err := s.client.post(ctx, "/release/"+url.PathEscape(s.ID), []byte("{}")); err != nil {
		return fmt.Errorf("failed to release session %s: %w", s.ID, err)
	}
	log.Debugf("Released session %s", s.ID)
	return nil
}

// Call sends req and decodes the device's answer into ack. A device failure
// is returned as a *protocol.Failure.
func (s *Session) Call(ctx context.Context, req, ack protocol.Message) error {
	// Step 1: Encode the request
	payload, err := codec.Serialize(req)
	if err != nil {
		return fmt.Errorf("failed to encode message %d: %w", req.MessageType(), err)
	}
	reqJSON, err := json.Marshal(Envelope{Type: uint16(req.MessageType()), Payload: hex.EncodeToString(payload)})
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	// Step 2: Exchange it
	log.Tracef("Session %s: sending message %d (%d bytes)", s.ID, req.MessageType(), len(payload))
	body, err := s.client.post(ctx, "/call/"+url.PathEscape(s.ID), reqJSON)
	if err != nil {
		return err
	}

	// Step 3: Decode the answer
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("failed to decode response envelope: %w", err)
	}
	data, err := hex.DecodeString(env.Payload)
	if err != nil {
		return errs.Encoding("response payload is not hex: %v", err)
	}

	respType := protocol.MessageType(env.Type)
	if respType == protocol.MsgFailure {
		failure := &protocol.Failure{}
		if err := codec.Deserialize(data, failure); err != nil {
			return fmt.Errorf("failed to decode device failure: %w", err)
		}
		return failure
	}
	if respType != ack.MessageType() {
		return errs.Protocol("expected message %d, bridge returned %d", ack.MessageType(), respType)
	}
	return codec.Deserialize(data, ack)
}

// post sends a stamped JSON body to the bridge and returns the response body.
func (c *Client) post(ctx context.Context, path string, reqJSON []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BridgeURI+path, bytes.NewBuffer(reqJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.APIKey != nil {
		stamp, err := c.generateStamp(reqJSON)
		if err != nil {
			return nil, fmt.Errorf("failed to generate stamp: %w", err)
		}
		httpReq.Header.Set("X-Stamp", stamp)
	}

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to bridge: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != "" {
			return nil, fmt.Errorf("bridge returned non-OK status: %d, error: %s", resp.StatusCode, errResp.Error)
		}
		return nil, fmt.Errorf("bridge returned non-OK status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

// generateStamp creates an API key stamp for the request
func (c *Client) generateStamp(requestBody []byte) (string, error) {
	signature, err := crypto.SignWithECDSA(c.APIKey.PrivateKey, requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to sign request body: %w", err)
	}

	stamp := Stamp{
		PublicKey: c.APIKey.PublicKey,
		Signature: hex.EncodeToString(signature),
		Scheme:    StampScheme,
	}
	stampJSON, err := json.Marshal(stamp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stamp: %w", err)
	}

	// Base64URL encode the stamp
	return base64.RawURLEncoding.EncodeToString(stampJSON), nil
}
