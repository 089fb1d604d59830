package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/voicetable/table-service/internal/core"
)

// Prompt templates. Each one demands a bare JSON object so downstream
// normalization stays mechanical; fences that slip through anyway are
// stripped before parsing.
const (
	visionPrompt = `Analyze this image and extract any table data you can see.
Return ONLY a valid JSON object with this exact structure:
{"headers": ["column1", "column2"], "rows": [["value1", "value2"]]}
Do not include any explanation or markdown formatting.`

	createTablePromptFmt = `Based on this spoken request: %q

Create a table structure for it. Return ONLY a valid JSON object with this exact structure:
{"headers": ["column1", "column2"], "rows": [["value1", "value2"]]}

Include 3-5 sample rows with realistic data. Make reasonable assumptions about what columns the user needs.
Do not include any explanation or markdown formatting.`

	editTablePromptFmt = `Here is the current table:
%s

The user's spoken instruction is: %q

Apply the instruction and return the COMPLETE modified table. Return ONLY a valid JSON object with this exact structure:
{"headers": ["column1", "column2"], "rows": [["value1", "value2"]]}

Return the full table, not just the changes. Do not include any explanation or markdown formatting.`
)

const errFmtEncodeTable = "failed to encode current table for prompt: %w"

func buildCreateTablePrompt(transcript string) string {
	return fmt.Sprintf(createTablePromptFmt, transcript)
}

// buildEditTablePrompt embeds the current table verbatim as indented JSON so
// the model sees exactly what the caller holds.
func buildEditTablePrompt(current core.Table, transcript string) (string, error) {
	encoded, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf(errFmtEncodeTable, err)
	}

	return fmt.Sprintf(editTablePromptFmt, string(encoded), transcript), nil
}
