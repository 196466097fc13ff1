package protocol

// Error codes carried in ErrorPayload.Code. The server maps its sentinel
// errors onto these; the client maps them back.
const (
	CodeRoomNotFound             = "ROOM_NOT_FOUND"
	CodeAlreadyExists            = "ALREADY_EXISTS"
	CodeTransportNotFound        = "TRANSPORT_NOT_FOUND"
	CodeProducerNotFound         = "PRODUCER_NOT_FOUND"
	CodeConsumerNotFound         = "CONSUMER_NOT_FOUND"
	CodeInvalidHandshake         = "INVALID_HANDSHAKE_PARAMETERS"
	CodeIncompatibleCapabilities = "INCOMPATIBLE_CAPABILITIES"
	CodeRoomFull                 = "ROOM_FULL"
	CodeInternal                 = "INTERNAL"
)
