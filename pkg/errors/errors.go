package errors

import "fmt"

type Underflow struct {
	MessageName string
	MsgSize     int
	MinimumSize int
}

func (e *Underflow) Error() string {
	return fmt.Sprintf("Message parsing underflowed (type=%s), provided %d bytes, needed at least %d", e.MessageName, e.MsgSize, e.MinimumSize)
}

type FrameOverflow struct {
	FrameSize    int
	MaxFrameSize int
}

func (e *FrameOverflow) Error() string {
	return fmt.Sprintf("Frame length %d exceeds configured maximum of %d bytes", e.FrameSize, e.MaxFrameSize)
}

type NilArgument struct {
	ArgumentName string
	Context      string
}

func (e *NilArgument) Error() string {
	return fmt.Sprintf("Required argument '%s' is nil (context: %s)", e.ArgumentName, e.Context)
}

type MissingPayloadCodec struct {
	MessageId uint16
}

func (e *MissingPayloadCodec) Error() string {
	return fmt.Sprintf("No payload codec registered for messageId=%d", e.MessageId)
}

type ConnectionClosed struct {
	Reason string
}

func (e *ConnectionClosed) Error() string {
	return fmt.Sprintf("Connection is closed (reason: %s)", e.Reason)
}

type ConnectionAlreadyOpen struct{}

func (e *ConnectionAlreadyOpen) Error() string {
	return "Connection has already been opened - create a new connection instead of reusing this one"
}

type FingerprintMismatch struct {
	ExpectedFingerprint string
	ActualFingerprint   string
}

func (e *FingerprintMismatch) Error() string {
	return fmt.Sprintf("Peer certificate fingerprint mismatch: expected %s, got %s", e.ExpectedFingerprint, e.ActualFingerprint)
}

type InvalidStageInput struct {
	StageName string
	Expected  string
}

func (e *InvalidStageInput) Error() string {
	return fmt.Sprintf("Connector stage '%s' received an incompatible upstream stream, expected %s", e.StageName, e.Expected)
}

type StageFailure struct {
	StageName string
	Err       error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("Connector stage '%s' failed: %v", e.StageName, e.Err)
}

func (e *StageFailure) Unwrap() error {
	return e.Err
}

type AddressResolution struct {
	Host string
	Err  error
}

func (e *AddressResolution) Error() string {
	return fmt.Sprintf("Could not resolve '%s' to a usable address: %v", e.Host, e.Err)
}

func (e *AddressResolution) Unwrap() error {
	return e.Err
}
