package classifier

// Prompt template for incident classification. The model must answer with a
// bare JSON object; everything around the first balanced object is discarded
// by extractFirstJSONObject, but the instructions keep well-behaved models
// from adding prose in the first place.
const classifyPromptTemplate = `You are an IT incident classifier.

Classify the following incident description.

Rules:
- category must be one of: %s
- priority must be one of: %s
- summary must be a single sentence
- Return ONLY valid JSON
- Do not include explanations or extra text

Incident description:
"%s"

Return JSON in this exact format:
{
  "category": "...",
  "priority": "...",
  "summary": "..."
}

DO NOT INCLUDE ANY EXTRA TEXT OR COMMENTS IN YOUR RESPONSE.
`
