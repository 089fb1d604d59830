package tabular

import (
	"encoding/json"
	"fmt"

	"github.com/voicetable/table-service/internal/core"
)

// Error detail formats for envelope extraction.
const (
	errFmtEnvelopeDecode  = "%w: %v"
	errFmtEnvelopeMissing = "%w: %s"

	detailNoChoices      = "no choices"
	detailNoMessage      = "first choice has no message"
	detailNoContent      = "message has no content"
	detailEmptyContent   = "message content is empty"
	detailEnvelopeIsNull = "envelope is null"
)

// completionEnvelope mirrors the slice of an OpenAI-compatible chat
// completion response this service reads. Pointer fields distinguish a
// missing key from a zero value so failures can name what is absent.
type completionEnvelope struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractMessageContent decodes a chat-completion envelope and returns the
// content of the first choice's message. It never inspects the content
// itself. Any structural defect, including an envelope that is not valid
// JSON, yields core.ErrMalformedEnvelope.
func ExtractMessageContent(envelope []byte) (string, error) {
	var decoded *completionEnvelope

	err := json.Unmarshal(envelope, &decoded)
	if err != nil {
		return "", fmt.Errorf(errFmtEnvelopeDecode, core.ErrMalformedEnvelope, err)
	}

	if decoded == nil {
		return "", fmt.Errorf(
			errFmtEnvelopeMissing, core.ErrMalformedEnvelope, detailEnvelopeIsNull,
		)
	}

	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf(
			errFmtEnvelopeMissing, core.ErrMalformedEnvelope, detailNoChoices,
		)
	}

	message := decoded.Choices[0].Message
	if message == nil {
		return "", fmt.Errorf(
			errFmtEnvelopeMissing, core.ErrMalformedEnvelope, detailNoMessage,
		)
	}

	if message.Content == nil {
		return "", fmt.Errorf(
			errFmtEnvelopeMissing, core.ErrMalformedEnvelope, detailNoContent,
		)
	}

	content := *message.Content
	if content == "" {
		return "", fmt.Errorf(
			errFmtEnvelopeMissing, core.ErrMalformedEnvelope, detailEmptyContent,
		)
	}

	return content, nil
}
