package session

import "errors"

// Error taxonomy for session failures. All fatal categories funnel into
// [StateError] and trigger full teardown; none crash the process.
var (
	// ErrCredentialMissing reports that no usable API credential could be
	// resolved before a connect attempt. Non-fatal to the process; the
	// session lands in [StateError] without acquiring any resources.
	ErrCredentialMissing = errors.New("session: no usable credential")

	// ErrDeviceAccessDenied reports that the capture device could not be
	// opened. Fatal to the connect attempt.
	ErrDeviceAccessDenied = errors.New("session: capture device access denied")

	// ErrChannelOpen reports that the remote session failed to establish.
	ErrChannelOpen = errors.New("session: channel open failed")

	// ErrChannelRuntime reports an error from the remote channel after the
	// session was established.
	ErrChannelRuntime = errors.New("session: channel runtime error")

	// ErrAlreadyRunning reports a start request while a session is live.
	ErrAlreadyRunning = errors.New("session: already running")
)
