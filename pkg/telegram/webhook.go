package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"

	"callwatch/pkg/errors"
)

// SecretHeader carries the secret_token registered with setWebhook
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// maxUpdateBytes bounds a single webhook body
const maxUpdateBytes = 1 << 20

// ErrBadSecret is returned when the webhook secret header does not match
var ErrBadSecret = errors.New("telegram webhook secret mismatch")

// DecodeUpdate verifies the secret header (when secret is set) and decodes the body.
// Bad JSON is reported as a *errors.ValidationError.
func DecodeUpdate(r *http.Request, secret string) (*Update, error) {
	if secret != "" {
		got := r.Header.Get(SecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			return nil, ErrBadSecret
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		return nil, errors.Wrap(err, "read webhook body")
	}

	var update Update
	if err := json.Unmarshal(body, &update); err != nil {
		return nil, errors.NewValidationError("body", "invalid update JSON", err.Error())
	}
	return &update, nil
}
