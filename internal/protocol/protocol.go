package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ServerVersion is reported to every operator on connect.
const ServerVersion = "1.0.0"

// Message types carried in the envelope header.
const (
	TypeDeviceStatus            = "device-status"
	TypeOperatorAuthRequest     = "operator-auth-request"
	TypeOperatorAuthReply       = "operator-auth-reply"
	TypeOperatorServerInfoReply = "operator-server-info-reply"
)

// Header carries the type discriminator plus optional routing metadata that
// is echoed back on replies.
type Header struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Source        string          `json:"source,omitempty"`
	Target        string          `json:"target,omitempty"`
	RoundTripData json.RawMessage `json:"roundTripData,omitempty"`
}

// Envelope is the wire structure: one JSON object per frame.
type Envelope struct {
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// DeviceStatusBody is the telemetry snapshot a device pushes. All fields are
// optional; absent fields stay NULL in the state log.
type DeviceStatusBody struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	Usage            *float64 `json:"usage,omitempty"`
	FreeSpace        *float64 `json:"freeSpace,omitempty"`
	Input1           *bool    `json:"input1,omitempty"`
	Input2           *bool    `json:"input2,omitempty"`
	Input3           *bool    `json:"input3,omitempty"`
	Output1          *bool    `json:"output1,omitempty"`
	Output2          *bool    `json:"output2,omitempty"`
	Output3          *bool    `json:"output3,omitempty"`
	RemainingSeconds *int64   `json:"remainingSeconds,omitempty"`
	DeviceTime       *int64   `json:"deviceTime,omitempty"`
}

type AuthRequestBody struct {
	Username     string `json:"username"`
	PasswordHash string `json:"passwordHash"`
}

type AuthReplyBody struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
}

type ServerInfoBody struct {
	Version string `json:"version"`
}

// Message is a decoded envelope. Body holds one of the typed body structs
// (*DeviceStatusBody, *AuthRequestBody, ...) selected by Header.Type, or nil
// when the type is not one this gateway knows how to decode.
type Message struct {
	Header Header
	Body   any
}

// DecodeDeviceMessage parses a frame from a device connection.
func DecodeDeviceMessage(data []byte) (Message, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Header: env.Header}
	switch env.Header.Type {
	case TypeDeviceStatus:
		var body DeviceStatusBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return Message{}, fmt.Errorf("decode %s body: %w", env.Header.Type, err)
		}
		msg.Body = &body
	}
	return msg, nil
}

// DecodeOperatorMessage parses a frame from an operator connection.
func DecodeOperatorMessage(data []byte) (Message, error) {
	env, err := decodeEnvelope(data)
	if err != nil {
		return Message{}, err
	}

	msg := Message{Header: env.Header}
	switch env.Header.Type {
	case TypeOperatorAuthRequest:
		var body AuthRequestBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return Message{}, fmt.Errorf("decode %s body: %w", env.Header.Type, err)
		}
		msg.Body = &body
	}
	return msg, nil
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Header.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing header.type")
	}
	return env, nil
}

// Outbound is an envelope with an already-typed body, ready for marshalling.
type Outbound struct {
	Header Header `json:"header"`
	Body   any    `json:"body"`
}

// NewServerInfoReply builds the envelope pushed to every operator on connect.
func NewServerInfoReply(version string) Outbound {
	return Outbound{
		Header: Header{
			Type:          TypeOperatorServerInfoReply,
			CorrelationID: uuid.NewString(),
		},
		Body: ServerInfoBody{Version: version},
	}
}

// NewAuthReply answers an operator-auth-request, echoing the request's
// correlation id and round-trip data.
func NewAuthReply(req Header, success bool, token string) Outbound {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Outbound{
		Header: Header{
			Type:          TypeOperatorAuthReply,
			CorrelationID: correlationID,
			RoundTripData: req.RoundTripData,
		},
		Body: AuthReplyBody{Success: success, Token: token},
	}
}
