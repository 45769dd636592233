// Package message defines the shared conversation message model.
//
// A Message is identified by its id and belongs to exactly one task. Content
// is a tagged union (text, structured data, reasoning, tool call, tool
// result); tool exchanges are correlated by tool_call_id. While a message is
// streaming (StreamInProgress) its body may be rewritten in place by the
// live update path; once StreamDone it is final.
package message
