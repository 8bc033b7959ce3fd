package analysis

import (
	"fmt"
	"strings"
)

const resultSchema = `Respond with a single JSON object and nothing else:
{
  "items": [
    {
      "name": "string",
      "quantity": "descriptive portion, e.g. \"1 cup\" or \"2 slices\"",
      "nutrition": {"calories": 0, "protein": 0, "carbs": 0, "fat": 0, "fiber": 0, "sugar": 0},
      "confidence": 0.0
    }
  ],
  "totals": {"calories": 0, "protein": 0, "carbs": 0, "fat": 0, "fiber": 0, "sugar": 0},
  "uncertainty": {
    "has_uncertainty": false,
    "uncertain_items": ["item names you could not identify or size reliably"],
    "uncertainty_reasons": ["one short question-worthy reason per uncertain item"]
  }
}
Rules:
- Estimate typical values when they are not stated. Grams for macros, kcal for calories.
- totals is the sum of all items.
- Set has_uncertainty to true only when a clarification from the user would materially change the numbers.
- If no food is identified, return an empty items array and zero totals.`

func analyzePrompt(language string) string {
	var b strings.Builder
	b.WriteString("You are a nutritionist's assistant. ")
	b.WriteString("You identify the foods in a meal submission, estimate portions and report nutrition data.\n\n")
	b.WriteString(resultSchema)
	writeLanguage(&b, language)
	return b.String()
}

func reanalyzePrompt(language string) string {
	var b strings.Builder
	b.WriteString("You are a nutritionist's assistant. ")
	b.WriteString("You previously analyzed a meal and were unsure about some items. ")
	b.WriteString("The user has now sent a clarification. ")
	b.WriteString("Combine the earlier analysis with the clarification and return the complete, updated analysis of the whole meal.\n\n")
	b.WriteString(resultSchema)
	writeLanguage(&b, language)
	return b.String()
}

func writeLanguage(b *strings.Builder, language string) {
	if language == "" {
		return
	}
	fmt.Fprintf(b, "\n- Write food names, quantities and reasons in language %q. Keep JSON keys in English.", language)
}

func describeTextPrompt(body string) string {
	return "Analyze this meal description:\n\n" + body
}

func describeTranscriptPrompt(transcript string) string {
	return "Analyze this transcribed voice note describing a meal:\n\n" + transcript
}

func clarificationPrompt(originalSummary, clarification string) string {
	return fmt.Sprintf("Earlier analysis:\n%s\n\nUser clarification:\n%s", originalSummary, clarification)
}
