// Package handshake carries the request/response bridge between a requesting
// application and its provider over a WebSocket.
package handshake

import (
	"encoding/json"

	"github.com/charlesng35/skyprovider/pkg/response"
)

// Frame types.
const (
	FrameCall  = "call"
	FrameReply = "reply"
)

// Host to provider calls.
const (
	CallGetMetadata      = "getMetadata"
	CallConnectSilently  = "connectSilently"
	CallConnect          = "connect"
	CallConnectWithInput = "connectWithInput"
	CallDisconnect       = "disconnect"
	CallCallInterface    = "callInterface"
)

// CallPopupOpen is the provider to host call asking the host to open a popup window.
const CallPopupOpen = "popup.open"

// Frame is one message on the handshake channel. Calls carry Method and Params; replies
// carry the ID of the call they answer and either Result or Error.
type Frame struct {
	ID     string              `json:"id"`
	Type   string              `json:"type"`
	Method string              `json:"method,omitempty"`
	Params json.RawMessage     `json:"params,omitempty"`
	Result json.RawMessage     `json:"result,omitempty"`
	Error  *response.ErrorInfo `json:"error,omitempty"`
}

// PopupOpenResult is the host's answer to CallPopupOpen.
type PopupOpenResult struct {
	Opened bool `json:"opened"`
}

// CallInterfaceParams are the parameters of CallCallInterface.
type CallInterfaceParams struct {
	Method string `json:"method"`
}
