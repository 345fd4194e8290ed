package bundler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultCompleteMessage is the literal marker the bundler sends once a full
// build has finished. The string is part of the wire contract.
const DefaultCompleteMessage = "Webpack compilation complete."

// Payload is the structured message the bundler emits after each watch-mode
// compilation.
type Payload struct {
	EmittedFiles []string `json:"emittedFiles"`
	ChunkFiles   []string `json:"chunkFiles"`
	Hash         string   `json:"hash"`
}

// Message is one decoded line from the bundler's message channel: either the
// build-complete marker or a compilation payload.
type Message struct {
	Done    bool
	Payload *Payload
}

// DecodeMessage parses a single line from the message channel. Lines are
// JSON: either a literal string equal to completeMessage, or a payload
// object. Unknown fields and trailing data are rejected.
func DecodeMessage(line []byte, completeMessage string) (Message, error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return Message{}, errors.New("empty bundler message")
	}

	if trimmed[0] == '"' {
		var marker string
		if err := json.Unmarshal(trimmed, &marker); err != nil {
			return Message{}, fmt.Errorf("decode bundler marker: %w", err)
		}
		if marker != completeMessage {
			return Message{}, fmt.Errorf("unknown bundler marker %q", marker)
		}
		return Message{Done: true}, nil
	}

	payload := &Payload{}
	if err := decodeStrict(trimmed, payload); err != nil {
		return Message{}, fmt.Errorf("decode bundler payload: %w", err)
	}
	return Message{Payload: payload}, nil
}

func decodeStrict(data []byte, target any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("bundler message has trailing data")
		}
		return err
	}
	return nil
}
