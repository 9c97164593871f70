package behavior

import (
	"github.com/mssola/useragent"
)

const (
	// MobileBreakpoint is the widest viewport, in CSS pixels, treated as mobile.
	MobileBreakpoint = 768
	// MobileMouseCredit stands in for mouse movement on devices that have none.
	MobileMouseCredit = 10
)

// Device is what the page knows about the visitor's screen.
type Device struct {
	ViewportWidth int  `json:"viewport_width"`
	TouchCapable  bool `json:"touch"`
}

// Mobile reports whether mouse tracking is skipped: a narrow viewport or any
// touch capability.
func (d Device) Mobile() bool {
	return d.TouchCapable || (d.ViewportWidth > 0 && d.ViewportWidth <= MobileBreakpoint)
}

// DeviceFromUserAgent guesses a device when the page did not report one.
// Mobile user agents are treated as touch capable.
func DeviceFromUserAgent(userAgent string) Device {
	if userAgent == "" {
		return Device{}
	}
	ua := useragent.New(userAgent)
	return Device{TouchCapable: ua.Mobile()}
}

// ResolveDevice prefers what the page reported and falls back to the user agent.
func ResolveDevice(viewportWidth int, touch bool, userAgent string) Device {
	if viewportWidth > 0 || touch {
		return Device{ViewportWidth: viewportWidth, TouchCapable: touch}
	}
	return DeviceFromUserAgent(userAgent)
}
