// Package toolcall implements the tag protocol that embeds tool invocations
// in assistant text and tool results in tool-role messages.
//
// Call marker (self-closing, or with a JSON object body):
//
//	<dma:tool_call name="get_datetime"/>
//	<dma:tool_call name="add_to_stack" arguments='{"item":"x"}'/>
//	<dma:tool_call name="add_to_stack">{"item":"x"}</dma:tool_call>
//
// Result marker:
//
//	<dma:tool_response name="get_datetime">
//	<content>
//	...
//	</content>
//	</dma:tool_response>
//
// with <error> in place of <content> for failures. Markers are parsed into
// the closed Invocation variant (NoToolCall | ToolCall) rather than matched
// ad hoc by callers.
package toolcall
