// Package provider implements the identity provider a requesting application connects
// to: capability discovery, silent and interactive connection, permission arbitration,
// and dispatch of the declared interface methods.
package provider

import (
	"github.com/charlesng35/skyprovider/pkg/validator"
)

// ConnectionInfo is what a connected provider holds for the user. An empty Identity
// means the identity is derived from the secret when the info is saved.
type ConnectionInfo struct {
	Secret   string `json:"secret" validate:"required,max=4096"`
	Identity string `json:"identity" validate:"max=256"`
}

// Validate checks the shape of the connection info.
func (c ConnectionInfo) Validate() error {
	if err := validator.ValidateStruct(c); err != nil {
		return ErrInvalidConnectionInfo.WithInternal(err)
	}
	return nil
}

// SkappInfo identifies the requesting application.
type SkappInfo struct {
	Name   string `json:"name" validate:"required,max=256"`
	Domain string `json:"domain" validate:"required,max=512,skappdomain"`
}

// Validate checks the shape of the requesting application info.
func (s SkappInfo) Validate() error {
	if err := validator.ValidateStruct(s); err != nil {
		return ErrInvalidSkappInfo.WithInternal(err)
	}
	return nil
}

// Permission is a stored permission decision. PermissionUnknown means the user was never
// asked and is never the same as a denial.
type Permission int

const (
	PermissionUnknown Permission = iota
	PermissionGranted
	PermissionDenied
)

func (p Permission) String() string {
	switch p {
	case PermissionGranted:
		return "granted"
	case PermissionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// PermissionFromBool maps a stored boolean decision onto a Permission.
func PermissionFromBool(granted bool) Permission {
	if granted {
		return PermissionGranted
	}
	return PermissionDenied
}

// State is the connection state of a Provider.
type State string

const (
	StateDisconnected          State = "disconnected"
	StateConnectingSilent      State = "connecting_silent"
	StateConnectingInteractive State = "connecting_interactive"
	StateConnected             State = "connected"
)

// Connecting reports whether s is one of the transient connecting states.
func (s State) Connecting() bool {
	return s == StateConnectingSilent || s == StateConnectingInteractive
}

// Metadata describes the provider to requesting applications. It is available whatever
// the connection state.
type Metadata struct {
	Name                  string `json:"name"`
	URL                   string `json:"url"`
	RelativeConnectorPath string `json:"relativeConnectorPath"`
	ConnectorName         string `json:"connectorName"`
	ConnectorW            int    `json:"connectorW"`
	ConnectorH            int    `json:"connectorH"`
}
