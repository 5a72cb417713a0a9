package guides

import "fmt"

// componentPositions anchors the model on where components physically
// sit, which keeps generated steps from sending users to the wrong end
// of the car.
const componentPositions = `Component locations for orientation:
- Catalytic converter: in the exhaust line under the vehicle center, never in the engine bay
- Lambda (O2) sensor: screwed into the exhaust, before and after the catalytic converter
- MAF sensor: in the intake duct between air filter box and throttle body
- Throttle body: on the intake manifold in the engine bay
- Camshaft sensor: at the camshaft, usually on top of the engine
- Crankshaft sensor: low on the engine block near the flywheel
- Fuel pump: inside the fuel tank, often accessible under the rear seat bench
- Turbocharger: in the engine bay, mounted on the exhaust manifold
- Diesel particulate filter (DPF): in the exhaust line under the vehicle
- Spark plugs and ignition coils: on top of the engine, under the engine cover
- EGR valve: on the intake manifold, connected to the exhaust side
- Fuel injectors: on the fuel rail above the intake manifold
- ABS sensors: at each wheel hub behind the brake disc
- Thermostat: in the housing where the upper radiator hose meets the engine`

const guideSchema = `{
  "cause_title": "the cause exactly as given",
  "difficulty_level": "easy|medium|hard|expert",
  "estimated_time_hours": 1.5,
  "estimated_cost_eur": [lowEstimate, highEstimate],
  "for_beginners": true,
  "steps": [
    {
      "step": 1,
      "title": "short step title",
      "description": "detailed instructions for a DIY mechanic",
      "duration_minutes": 15,
      "safety_warning": "only when this step carries a real risk",
      "tools": ["tools used in this step"],
      "tips": "optional practical tip"
    }
  ],
  "tools_required": ["all tools across steps"],
  "safety_warnings": ["general safety warnings"],
  "when_to_call_mechanic": ["signs this repair exceeds DIY level"]
}`

var languageNames = map[string]string{
	"de": "German",
	"en": "English",
	"fr": "French",
	"es": "Spanish",
}

func generatePrompt(code, causeTitle, lang string) string {
	language := languageNames[lang]
	if language == "" {
		language = "German"
	}
	return fmt.Sprintf(`You are an experienced automotive master technician writing a DIY repair
guide. Trouble code: %s. Cause to repair: %q.

%s

Rules:
- The error code has already been read; never include a step about
  connecting an OBD2 scanner or reading the fault memory, except that
  the final step clears the code and verifies the repair.
- Steps are ordered so no step requires undoing a previous one.
- No citation markers like [1].
- All free text in %s.

Respond with a single JSON object of exactly this shape:

%s`, code, causeTitle, componentPositions, language, guideSchema)
}

func translatePrompt(guideJSON, from, to string) string {
	return fmt.Sprintf(`Translate all free-text values of this repair guide JSON from %s to %s.
Keep the JSON structure, keys, numbers and booleans exactly as they are.
Keep trouble codes and part designations intact. Respond with the JSON
object only:

%s`, languageNames[from], languageNames[to], guideJSON)
}
