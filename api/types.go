// Package api provides a client for the device bridge, the HTTP service that
// owns the physical connection to a signing device.
//
// The client handles:
// - Session acquire and release
// - Request/response marshaling of device messages
// - Request stamping with ECDSA P-256 API keys
//
// # Usage
//
// Create a client, optionally with an API key provider, and acquire a
// session for a device path:
//
//	client, err := api.NewClient(bridgeURI, httpClient, keyProvider)
//	if err != nil {
//		log.Fatal(err)
//	}
//	session, err := client.Acquire(ctx, "usb-1")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Release(ctx)
//
// A Session is a device transport:
//
//	svc := device.NewService(session, protocol.Config{})
package api

// StampScheme identifies the API key signature scheme in a stamp.
const StampScheme = "SIGNATURE_SCHEME_P256_SHA256"

// Stamp represents the stamp structure for API key authentication
type Stamp struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Scheme    string `json:"scheme"`
}

// Envelope carries one device message. Payload is the hex encoded binary
// form of the message.
type Envelope struct {
	Type    uint16 `json:"type"`
	Payload string `json:"payload"`
}

// AcquireResponse represents the response to a session acquire
type AcquireResponse struct {
	Session string `json:"session"`
}

// ErrorResponse is returned by the bridge with a non-OK status
type ErrorResponse struct {
	Error string `json:"error"`
}
