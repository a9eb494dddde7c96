/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses, WebSocket error envelopes and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the CustomError template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format.", Status: http.StatusUnsupportedMediaType},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please slow down.", Status: http.StatusTooManyRequests},

	// 2xxx: Protocol, Channel and Content Errors
	ErrMalformedMessage:       {Code: ErrMalformedMessage, Message: "Malformed message."},
	ErrUnknownMessageType:     {Code: ErrUnknownMessageType, Message: "Unknown message type: %s."},
	ErrMalformedPayload:       {Code: ErrMalformedPayload, Message: "Malformed payload for message type %s."},
	ErrClientNotAllowed:       {Code: ErrClientNotAllowed, Message: "Clients may not send %s messages."},
	ErrUnsupportedMessageType: {Code: ErrUnsupportedMessageType, Message: "Unsupported message type: %s."},
	ErrGuestCannotJoin:        {Code: ErrGuestCannotJoin, Message: "Guests can not join channels. Please sign in."},
	ErrNotChannelMember:       {Code: ErrNotChannelMember, Message: "You must join this channel first."},
	ErrTargetNotMember:        {Code: ErrTargetNotMember, Message: "That user is not in this channel."},
	ErrChannelNotFound:        {Code: ErrChannelNotFound, Message: "Channel not found.", Status: http.StatusNotFound},
	ErrMessageContentTooLong:  {Code: ErrMessageContentTooLong, Message: "Message is too long."},
	ErrMessageEmpty:           {Code: ErrMessageEmpty, Message: "Message is empty."},

	// 3xxx: User, Session, and Security Errors
	ErrPowChallengeRequired: {Code: ErrPowChallengeRequired, Message: "Verification required. Please try again.", Status: http.StatusForbidden},
	ErrPowChallengeInvalid:  {Code: ErrPowChallengeInvalid, Message: "Verification failed. Please try again."},
	ErrSessionReplaced:      {Code: ErrSessionReplaced, Message: "session replaced"},
	ErrAuthenticationFailed: {Code: ErrAuthenticationFailed, Message: "authentication failed"},
	ErrInvalidHello:         {Code: ErrInvalidHello, Message: "invalid hello"},
	ErrHandshakeTimeout:     {Code: ErrHandshakeTimeout, Message: "handshake timeout"},
	ErrUnauthorized:         {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrForbidden:            {Code: ErrForbidden, Message: "You are not allowed to do that.", Status: http.StatusForbidden},
	ErrInvalidUsername:      {Code: ErrInvalidUsername, Message: "Invalid username."},
	ErrInvalidPassword:      {Code: ErrInvalidPassword, Message: "Invalid password."},
	ErrUserAlreadyExists:    {Code: ErrUserAlreadyExists, Message: "Username is already taken.", Status: http.StatusConflict},
	ErrInvalidCredentials:   {Code: ErrInvalidCredentials, Message: "Incorrect username or password.", Status: http.StatusUnauthorized},

	// 5xxx: Internal System Errors
	ErrUnknown:       {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorageFailed: {Code: ErrStorageFailed, Message: "Storage is unavailable. Please try again.", Status: http.StatusInternalServerError},
}
