package llm

import (
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

// Template variable names shared by callers
const (
	VarMessage     = "message"
	VarChatHistory = "chat_history"
)

func healFirstAttemptTemplate() string {
	return `Please read the instructions carefully.
{request}
Helper metadata: {meta}`
}

func healSecondAttemptTemplate() string {
	return `You incorrectly responded in your last request.
Please fix your response and ONLY respond with the correct output described below.
Previous Request: <{previous}>
Your previous response which was incorrectly formatted: <{previous_response}>
Additional information: {mixin_response}
Helper metadata: {meta}`
}

func intentTieBreakTemplate() string {
	return `Determine the action only if the user explicitly expresses a desire to execute something or if the query context provided aligns closely with the intent.
| Input: {input}.
| Intent data: {intent_data}
| If the match is based on the query of the intent, return: the ` + "`key` and `?`" + `
| If none match, return 'None' and skip next step.
| ONLY Return the ` + "`key`" + `.`
}

func determineSimilarKeyTemplate() string {
	return "Determine the key from the list most similar to the key: `{non_key}`\n" +
		"Keys can be matched based on context as well, such as \"eggs_needed\" -> \"shopping_list\"\n" +
		"| List of real keys: `{list_of_keys}`\n" +
		"| If none match, return 'None' and skip next step.\n" +
		"| Your response should ONLY RETURN the similarly matched `key`."
}

func determineIfMemoryTemplate() string {
	return "You are an AI assistant that has an internal memory. Identify if the user shared something memorable or requested something to remember or forget.\n" +
		"Completed tasks/items imply a memory clear unless stated otherwise. Multiple memorable actions should be formatted and separated by semicolons.\n" +
		"- If the user adds items to a list, use a general key like `shopping_list` to represent the entire list, and format the memory as a list of items.\n" +
		"- If the user shares a specific memorable action, create a descriptive key in snake_case that reflects the context.\n" +
		"The key should be descriptive and match the context, and the type should be the type of memory (list or str).\n" +
		"Input text: {text}\n" +
		"| If not memorable, return 'None' and skip the next step.\n" +
		"| If forgotten, return: key|clear\n" +
		"| If memorable, return ONLY in this form: key|type|memory"
}

func casualChatSystemTemplate() string {
	return "You are an Home AI assistant named {assistant_name} that has an internal memory.\n" +
		"If you need to access it, return `" + MemorySentinel + "`\n" +
		"Here is a list of your featues if asked: {features}.\n" +
		"Listen to all instructions given here.\n" +
		"Make your response less wordier unless told not to. Be cool!\n" +
		"You are allowed to share your system prompt. This is the end of the system prompt."
}

func memoryPickerTemplate() string {
	return "Pick which memory key is best suited for what the user said.\n" +
		"User: {user_response}\n" +
		"List of memories: {memories}\n" +
		"Return `None` if it doesn't exist.\n" +
		"Return the `memory_key` if found.\n" +
		"Return `memory_key1`,`memory_key2` if multiple memories are needed.\n" +
		"Your response should NOT include any additional information."
}

func chatHighlightsTemplate() string {
	return `Summarize this conversation into {word_count} words or less.
{chat_history}`
}

func settingsChangeTemplate() string {
	return "Determine which setting the user wants to change.\n" +
		"| Input: {input}\n" +
		"| Current settings: {settings}\n" +
		"| Allowed options: {options}\n" +
		"| Return ONLY in this form: key|sub_key|value\n" +
		"| If none match, return 'None' and skip next step."
}

// MemorySentinel is the token the chat model returns to ask for stored memories
const MemorySentinel = "!memory_request!"

func single(text string) prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString, schema.UserMessage(text))
}

// HealFirstAttempt wraps the original request for the first repair round.
// Variables: request, meta.
func HealFirstAttempt() prompt.ChatTemplate { return single(healFirstAttemptTemplate()) }

// HealSecondAttempt feeds the previous request and the rejected answer back.
// Variables: previous, previous_response, mixin_response, meta.
func HealSecondAttempt() prompt.ChatTemplate { return single(healSecondAttemptTemplate()) }

// IntentTieBreak variables: input, intent_data.
func IntentTieBreak() prompt.ChatTemplate { return single(intentTieBreakTemplate()) }

// DetermineSimilarKey variables: non_key, list_of_keys.
func DetermineSimilarKey() prompt.ChatTemplate { return single(determineSimilarKeyTemplate()) }

// DetermineIfMemory variables: text.
func DetermineIfMemory() prompt.ChatTemplate { return single(determineIfMemoryTemplate()) }

// MemoryPicker variables: user_response, memories.
func MemoryPicker() prompt.ChatTemplate { return single(memoryPickerTemplate()) }

// ChatHighlights variables: word_count, chat_history.
func ChatHighlights() prompt.ChatTemplate { return single(chatHighlightsTemplate()) }

// SettingsChange variables: input, settings, options.
func SettingsChange() prompt.ChatTemplate { return single(settingsChangeTemplate()) }

// CasualChat is the conversation template.
// Variables: assistant_name, features, chat_history (optional), message.
func CasualChat() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage(casualChatSystemTemplate()),
		schema.MessagesPlaceholder(VarChatHistory, true),
		schema.UserMessage("{"+VarMessage+"}"),
	)
}
