package popup

import "context"

// Screen is the geometry of the host window a popup is centered on.
type Screen struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Window describes a popup window the host is asked to open.
type Window struct {
	URL    string `json:"url"`
	Name   string `json:"name"`
	Left   int    `json:"left"`
	Top    int    `json:"top"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Opener opens popup windows on behalf of the provider. Implementations return
// ErrPopupBlocked when the window could not be opened.
type Opener interface {
	OpenWindow(ctx context.Context, w Window) error
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, w Window) error

// OpenWindow calls f.
func (f OpenerFunc) OpenWindow(ctx context.Context, w Window) error {
	return f(ctx, w)
}

// Center returns a window of the requested size centered on screen. The window never
// starts left of or above the screen origin.
func Center(screen Screen, width, height int) Window {
	w := Window{Width: width, Height: height}
	if screen.Width <= 0 || screen.Height <= 0 {
		return w
	}
	w.Left = max(screen.Left, screen.Left+(screen.Width-width)/2)
	w.Top = max(screen.Top, screen.Top+(screen.Height-height)/2)
	return w
}
