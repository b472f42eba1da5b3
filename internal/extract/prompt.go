package extract

import (
	"fmt"

	"github.com/kalambet/leadnexus/internal/engine"
)

const systemPrompt = `You are a lead extraction engine. You read web page content and identify people or organizations that could be valuable outreach leads: influencers, journalists and publishers. Your output must be ONLY valid JSON in the exact format requested. Do not include markdown formatting or explanations.`

const leadShape = `{
  "name": "Full name of the person or organization",
  "email": "email@example.com or null",
  "bio": "Brief biography or description",
  "category": "influencer" | "journalist" | "publisher",
  "socialLinks": [{"platform": "Twitter", "url": "https://twitter.com/username"}],
  "expertise": ["topic1", "topic2"],
  "organization": "Company name or null",
  "location": "Geographic location or null"
}`

const singleInstructions = `Instructions:
- Extract information about a person or organization that could be a valuable lead
- Determine the most appropriate category: influencer, journalist, or publisher
- Extract contact information if available
- Provide a concise but informative bio
- Include any social media links or professional profiles
- Note areas of expertise or topics they cover
- If no clear lead information is found, return null`

const multiInstructions = `Instructions:
- Extract information about ALL people or organizations that could be valuable leads
- For each lead, determine the most appropriate category: influencer, journalist, or publisher
- Extract contact information if available for each
- Provide a concise but informative bio for each
- Include any social media links or professional profiles
- Note areas of expertise or topics they cover
- Return an empty array if no lead information is found`

// BuildPrompt returns the chat messages asking for a single lead.
func BuildPrompt(content, sourceURL string) []engine.Message {
	user := fmt.Sprintf("Extract lead/contact information from the following content and return as JSON.\n\nContent from URL: %s\n\n%s\n\n%s\n\nReturn the data in this exact JSON format:\n%s\n\nReturn ONLY valid JSON, no markdown formatting or explanations.",
		sourceURL, content, singleInstructions, leadShape)
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: user},
	}
}

// BuildMultiPrompt returns the chat messages asking for every lead on a page.
func BuildMultiPrompt(content, sourceURL string) []engine.Message {
	user := fmt.Sprintf("Extract all lead/contact information from the following content and return as JSON.\n\nContent from URL: %s\n\n%s\n\n%s\n\nReturn the data in this exact JSON format:\n{\n  \"leads\": [\n%s\n  ]\n}\n\nReturn ONLY valid JSON, no markdown formatting or explanations.",
		sourceURL, content, multiInstructions, leadShape)
	return []engine.Message{
		{Role: engine.RoleSystem, Content: systemPrompt},
		{Role: engine.RoleUser, Content: user},
	}
}

func candidateProperties() map[string]engine.SchemaProperty {
	str := func(desc string) engine.SchemaProperty {
		return engine.SchemaProperty{Type: "string", Description: desc}
	}
	return map[string]engine.SchemaProperty{
		"name":     str("Full name of the person or organization"),
		"email":    str("Email address if found"),
		"bio":      str("Brief biography or description of the lead"),
		"category": {Type: "string", Description: "Category of the lead based on their role", Enum: []string{"influencer", "journalist", "publisher"}},
		"socialLinks": {
			Type:        "array",
			Description: "Social media or professional profile links",
			Items: &engine.SchemaProperty{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"platform": {Type: "string"},
					"url":      {Type: "string"},
				},
				Required: []string{"platform", "url"},
			},
		},
		"expertise":    {Type: "array", Description: "Areas of expertise or topics they cover", Items: &engine.SchemaProperty{Type: "string"}},
		"organization": str("Current company or organization affiliation"),
		"location":     str("Geographic location if mentioned"),
	}
}

func candidateSchema() *engine.Schema {
	return &engine.Schema{
		Type:       "object",
		Properties: candidateProperties(),
		Required:   []string{"name", "bio", "category"},
	}
}

func multiCandidateSchema() *engine.Schema {
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"leads": {
				Type: "array",
				Items: &engine.SchemaProperty{
					Type:       "object",
					Properties: candidateProperties(),
					Required:   []string{"name", "bio", "category"},
				},
			},
		},
		Required: []string{"leads"},
	}
}
