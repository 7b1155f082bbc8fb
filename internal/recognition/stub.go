package recognition

import (
	"context"
	"fmt"
)

// Stub answers with a summary of the collected data. It stands in when no
// recognition service is configured, keeping the conversation end-to-end
// functional in development.
type Stub struct{}

// NewStub constructs the stand-in recognizer.
func NewStub() *Stub {
	return &Stub{}
}

// Calculate echoes the collected answers.
func (s *Stub) Calculate(_ context.Context, req Request) (string, error) {
	return fmt.Sprintf("Guards: %s, town: %s. Recognition is not available yet, stay tuned!",
		req.GuardNumber, req.Town), nil
}
