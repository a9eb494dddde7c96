/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific business or system errors both internally and in
communication with clients, over HTTP responses and WebSocket error envelopes alike.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request or message rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Protocol, Channel and Content Errors
const (
	// ErrMalformedMessage indicates that a frame was not a valid envelope at all.
	ErrMalformedMessage = 2001

	// ErrUnknownMessageType indicates an unrecognized message discriminant.
	ErrUnknownMessageType = 2002

	// ErrMalformedPayload indicates a known discriminant whose payload failed validation.
	ErrMalformedPayload = 2003

	// ErrClientNotAllowed indicates a client sent a message type only the server may author.
	ErrClientNotAllowed = 2004

	// ErrUnsupportedMessageType indicates a valid message type that has no handler in this state.
	ErrUnsupportedMessageType = 2005

	// ErrGuestCannotJoin indicates that a guest attempted to join a channel.
	ErrGuestCannotJoin = 2101

	// ErrNotChannelMember indicates the user acted on a channel it has not joined.
	ErrNotChannelMember = 2102

	// ErrTargetNotMember indicates the target of a moderation command is not in the channel.
	ErrTargetNotMember = 2103

	// ErrChannelNotFound indicates that the requested channel does not exist.
	ErrChannelNotFound = 2104

	// ErrMessageContentTooLong indicates that the message content exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates that the message content was empty.
	ErrMessageEmpty = 2202
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrPowChallengeRequired indicates the client must complete a Proof-of-Work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates that the PoW proof provided by the client is invalid.
	ErrPowChallengeInvalid = 3002

	// ErrSessionReplaced indicates the connection was closed because the user connected elsewhere.
	ErrSessionReplaced = 3004

	// ErrAuthenticationFailed indicates that the handshake credentials were rejected.
	ErrAuthenticationFailed = 3005

	// ErrInvalidHello indicates that the first frame of a connection was not a valid hello.
	ErrInvalidHello = 3006

	// ErrHandshakeTimeout indicates that no hello arrived within the handshake window.
	ErrHandshakeTimeout = 3007

	// ErrUnauthorized indicates that the request requires a valid identity token.
	ErrUnauthorized = 3101

	// ErrForbidden indicates that the user lacks the permission for the action.
	ErrForbidden = 3102

	// ErrInvalidUsername indicates that the username does not satisfy the naming rules.
	ErrInvalidUsername = 3201

	// ErrInvalidPassword indicates that the password does not satisfy the length rules.
	ErrInvalidPassword = 3202

	// ErrUserAlreadyExists indicates that the username is already taken.
	ErrUserAlreadyExists = 3203

	// ErrInvalidCredentials indicates a failed login.
	ErrInvalidCredentials = 3204
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates the persistence layer failed.
	ErrStorageFailed = 5001
)
