package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/onnwee/donation-reconciler/internal/paystack"
)

// Response bodies for rejected deliveries.
const (
	ResponseInvalidRequest   = "Invalid request"
	ResponseInvalidSignature = "Invalid signature"
)

// Invalid describes why a delivery was rejected before dispatch.
type Invalid struct {
	Status   int
	Response string
}

// Interpreter validates and classifies raw webhook deliveries.
type Interpreter struct {
	keys paystack.KeyProvider
}

// NewInterpreter creates an interpreter that verifies signatures with keys.
func NewInterpreter(keys paystack.KeyProvider) *Interpreter {
	return &Interpreter{keys: keys}
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Interpret checks the payload shape, then the signature with the secret key
// of the mode tagged in data.domain, then classifies the event.
func (i *Interpreter) Interpret(payload []byte, signature string) (*Event, *Invalid) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		return nil, &Invalid{Status: http.StatusBadRequest, Response: ResponseInvalidRequest}
	}
	raw := bytes.TrimSpace(env.Data)
	_, routed := eventTable[env.Event]

	var tag struct {
		Domain string `json:"domain"`
	}
	if len(raw) == 0 || raw[0] != '{' || json.Unmarshal(raw, &tag) != nil {
		if routed {
			return nil, &Invalid{Status: http.StatusBadRequest, Response: ResponseInvalidRequest}
		}
		return i.untagged(env.Event, payload, signature)
	}
	testMode := tag.Domain == "test"

	secret := i.keys.Keys(testMode).SecretKey
	if !paystack.VerifySignature(secret, payload, signature) {
		return nil, &Invalid{Status: http.StatusUnauthorized, Response: ResponseInvalidSignature}
	}

	e := &Event{
		Type:      env.Event,
		TestMode:  testMode,
		Payload:   payload,
		Signature: signature,
	}
	if err := json.Unmarshal(raw, &e.Data); err != nil {
		// Events outside the table may carry fields shaped differently.
		if routed {
			return nil, &Invalid{Status: http.StatusBadRequest, Response: ResponseInvalidRequest}
		}
		e.Data = Data{Domain: tag.Domain}
	}
	classify(e)
	return e, nil
}

// untagged handles an event outside the table whose data carries no readable
// domain. Without a mode tag either secret may have signed it; a valid
// signature gets the event acknowledged and ignored.
func (i *Interpreter) untagged(event string, payload []byte, signature string) (*Event, *Invalid) {
	for _, testMode := range []bool{false, true} {
		if !paystack.VerifySignature(i.keys.Keys(testMode).SecretKey, payload, signature) {
			continue
		}
		e := &Event{Type: event, TestMode: testMode, Payload: payload, Signature: signature}
		classify(e)
		return e, nil
	}
	return nil, &Invalid{Status: http.StatusUnauthorized, Response: ResponseInvalidSignature}
}
