// Package wire defines the streamed response format between the gateway and
// its clients.
//
// A response is a sequence of [Event] values, each a flat JSON object with a
// "type" discriminator:
//
//	start             {messageId}
//	text-delta        {delta}
//	reasoning-delta   {delta}
//	tool-call         {toolCallId, toolName, input}
//	tool-result       {toolCallId, output | error}
//	source-url        {url, title}
//	file              {mediaType, url, filename}
//	error             {errorText}
//	finish            {status, steps}
//
// Two framings are supported. NDJSON writes one object per line
// (application/x-ndjson). SSE writes "event: <type>\ndata: <json>\n\n"
// (text/event-stream). [NegotiateFormat] picks one from an Accept header.
//
// A well-formed response ends with exactly one finish. A stream that closes
// without it is reported by [Decoder.Next] as [ErrTransportInterrupted], so
// a client can tell a truncated answer from a complete one. An error event
// is fatal and is not followed by finish.
//
// [Applier] folds decoded events into a transcript message on the client
// side. [ChatRequest] is the request body for POST /api/chat.
package wire
