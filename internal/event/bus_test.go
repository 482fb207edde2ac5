package event

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	assert.Equal(t, dispositionAck, classify(nil))

	assert.Equal(t, dispositionRetry, classify(errors.New("read model unavailable")),
		"transient failures are redelivered")
	assert.Equal(t, dispositionRetry, classify(fmt.Errorf("apply: %w", errors.New("resource not projected yet"))))

	assert.Equal(t, dispositionTerm, classify(Poison(errors.New("unhandled event type"))))
	assert.Equal(t, dispositionTerm, classify(fmt.Errorf("apply: %w", Poison(errors.New("bad spec")))),
		"wrapped poison pills still terminate")
}

func TestRedeliverDelayIsBackoff(t *testing.T) {
	assert.Positive(t, redeliverDelay, "transient Naks must not spin hot")
}
