package enrich

import "fmt"

const codeInfoSchema = `{
  "title": "short German title naming code and affected component",
  "description": "2-4 German paragraphs explaining the fault, how it is detected and its consequences",
  "symptoms": ["German symptom", "..."],
  "causes": ["German cause, most likely first", "..."],
  "diagnostic_steps": ["German diagnostic step in order", "..."],
  "repair_steps": ["German repair step", "..."],
  "tools_required": ["tool name", "..."],
  "estimated_cost_eur": 0,
  "difficulty_level": "easy|medium|hard|expert"
}`

func researchPrompt(code string) string {
	return fmt.Sprintf(`Research the OBD2 diagnostic trouble code %s for passenger cars.
Cover: what the code means, the affected component and its location in the
vehicle, typical symptoms, the most common causes ordered by likelihood,
how a workshop diagnoses it step by step, typical repairs and realistic
repair costs in Germany (EUR). Prefer manufacturer documentation and
established automotive sources.`, code)
}

func structuringPrompt(code, research string) string {
	return fmt.Sprintf(`You are an automotive data editor. Convert the research notes below
about trouble code %s into a single JSON object with exactly this shape,
all free-text values in German:

%s

Respond with the JSON object only.

Research notes:
%s`, code, codeInfoSchema, research)
}

func directPrompt(code string) string {
	return fmt.Sprintf(`You are an experienced automotive master technician. Describe the OBD2
diagnostic trouble code %s from your own knowledge as a single JSON
object with exactly this shape, all free-text values in German:

%s

Respond with the JSON object only.`, code, codeInfoSchema)
}

func translateFieldsPrompt(info codeInfo) string {
	return fmt.Sprintf(`Translate the German automotive texts in this JSON object to English.
Keep the JSON shape identical, keep trouble codes and part names intact,
respond with the JSON object only:

{
  "title": %q,
  "description": %q,
  "symptoms": %s,
  "causes": %s
}`, info.Title, info.Description, jsonStrings(info.Symptoms), jsonStrings(info.Causes))
}

func vehiclePrompt(code string, v Vehicle) string {
	return fmt.Sprintf(`Research how the OBD2 trouble code %s typically presents on a %s.
Respond with a single JSON object, free text in German:

{
  "issues": ["known model-specific issue", "..."],
  "most_likely_cause": "single most likely cause for this model",
  "typical_mileage_km": 0,
  "part_numbers": ["OEM part number if known", "..."],
  "cost_estimate_eur": "range as text, e.g. 300-800",
  "specific_notes": "German notes specific to this model"
}

Respond with the JSON object only.`, code, v)
}

func quickPrompt(code string) string {
	return fmt.Sprintf(`Give a very short German assessment of OBD2 trouble code %s as JSON:

{
  "title": "short German title",
  "summary": "1-2 German sentences",
  "urgency": "low|medium|high"
}

Respond with the JSON object only.`, code)
}
