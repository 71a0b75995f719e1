package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	// Adapter failures: a speech provider call failed or returned empty.
	ReasonTranscribe ReasonCode = "stt_transcribe"
	ReasonSynthesize ReasonCode = "tts_synthesize"

	// Backend failure: the external task dispatch failed.
	ReasonDispatch ReasonCode = "backend_dispatch"

	// Protocol error: a malformed inbound client message.
	ReasonProtocol ReasonCode = "protocol"

	ReasonTransportSend             ReasonCode = "transport_send"
	ReasonTransportInvalidSignature ReasonCode = "webhook_invalid_signature"
)

// AdapterFailure reports whether err belongs to the adapter failure class.
func AdapterFailure(err error) bool {
	r := Reason(err)
	return r == ReasonTranscribe || r == ReasonSynthesize
}

// BackendFailure reports whether err belongs to the backend failure class.
func BackendFailure(err error) bool {
	return HasReason(err, ReasonDispatch)
}
