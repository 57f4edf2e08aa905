package xpool

// Envelope carries one (sender, payload) pair through a dispatch.
// It is pooled through the bus registry; the bus owns it from acquire to release.
type Envelope struct {
	Sender any
	Args   EventArgs
}

// Reset clears the references so the envelope does not pin the payload.
func (e *Envelope) Reset() {
	e.Sender = nil
	e.Args = nil
}

func (e *Envelope) fill(sender any, args EventArgs) *Envelope {
	e.Sender = sender
	e.Args = args
	return e
}
