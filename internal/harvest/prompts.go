package harvest

import "fmt"

var harvestLanguageNames = map[string]string{
	"de": "German",
	"en": "English",
	"fr": "French",
	"es": "Spanish",
}

func harvestPrompt(topic, searchLanguage, category string) string {
	language := harvestLanguageNames[searchLanguage]
	if language == "" {
		language = "English"
	}
	return fmt.Sprintf(`Research the automotive topic %q (category: %s) in depth for a car
repair knowledge base. Cover symptoms, causes, diagnosis, repair
procedures, required tools and realistic repair costs in Germany (EUR).
Prefer manufacturer documentation and established automotive sources.

Respond with a single JSON object, all free text in %s:

{
  "title": "concise topic title",
  "content": "3-5 paragraphs of substantive explanation",
  "symptoms": ["symptom", "..."],
  "causes": ["cause, most likely first", "..."],
  "diagnostic_steps": ["ordered diagnostic step", "..."],
  "repair_steps": ["repair step", "..."],
  "tools_required": ["tool", "..."],
  "keywords": ["lowercase search keyword", "..."],
  "estimated_cost_eur": 0,
  "difficulty_level": "easy|medium|hard|expert"
}

Respond with the JSON object only.`, topic, category, language)
}

func translatePrompt(title, content, from, to string) string {
	return fmt.Sprintf(`Translate this automotive text from %s to %s. Keep trouble codes and
part designations intact. Respond with JSON only:

{
  "title": %q,
  "content": %q
}`, harvestLanguageNames[from], harvestLanguageNames[to], title, content)
}
