package ollama

import "fmt"

// NotFoundAnswer is what the model is told to say when the context has nothing relevant.
const NotFoundAnswer = "Not found in collection"

const promptTemplate = `Only use the following context from my notes collection.
Do not invent. If nothing matches, say '%s'.

Context:
%s

Question: %s`

// BuildPrompt embeds the context bundle and the question into the grounding prompt.
func BuildPrompt(query, bundle string) string {
	return fmt.Sprintf(promptTemplate, NotFoundAnswer, bundle, query)
}
