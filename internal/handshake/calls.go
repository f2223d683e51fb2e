package handshake

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/charlesng35/skyprovider/internal/provider"
	appErrors "github.com/charlesng35/skyprovider/pkg/errors"
)

// ErrUnknownCall is returned for calls the provider does not serve.
var ErrUnknownCall = appErrors.New("handshake.unknown_call", "Unknown handshake call", http.StatusBadRequest)

func decodeParams(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return appErrors.NewBadRequest("Call parameters are required")
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return appErrors.NewBadRequest("Call parameters are malformed").WithInternal(err)
	}
	return nil
}

// dispatch runs one host call against the session's provider.
func (s *Session) dispatch(ctx context.Context, method string, params json.RawMessage) (any, error) {
	p := s.provider
	switch method {
	case CallGetMetadata:
		return p.Metadata(), nil

	case CallConnectSilently:
		var skapp provider.SkappInfo
		if err := decodeParams(params, &skapp); err != nil {
			return nil, err
		}
		iface, err := p.ConnectSilently(ctx, skapp)
		if err != nil || iface == nil {
			return nil, err
		}
		return iface, nil

	case CallConnect:
		var skapp provider.SkappInfo
		if err := decodeParams(params, &skapp); err != nil {
			return nil, err
		}
		return p.Connect(ctx, skapp)

	case CallConnectWithInput:
		var info provider.ConnectionInfo
		if err := decodeParams(params, &info); err != nil {
			return nil, err
		}
		return p.ConnectWithInput(ctx, info)

	case CallDisconnect:
		return nil, p.Disconnect(ctx)

	case CallCallInterface:
		var call CallInterfaceParams
		if err := decodeParams(params, &call); err != nil {
			return nil, err
		}
		return p.CallInterface(ctx, call.Method)
	}
	return nil, ErrUnknownCall.WithMessage("Unknown handshake call " + method)
}
